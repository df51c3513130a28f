package mcp

import "github.com/mark3labs/mcp-go/mcp"

var fetchToolDef = mcp.NewTool("nci_fetch",
	mcp.WithDescription("Fetch a published content index by locator and assemble its items. Chunks that fail validation are reported under skipped."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("locator",
		mcp.Required(),
		mcp.Description("Index locator: nci:<author hex>?k=<primary key>"),
	),
	mcp.WithBoolean("offline",
		mcp.Description("Assemble from the local event cache without contacting relays"),
	),
)

var searchToolDef = mcp.NewTool("nci_search",
	mcp.WithDescription("Full-text search over the items of one content index. Every query word matches as a prefix; results are ranked with title matches first. An empty query lists items in order."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("source",
		mcp.Required(),
		mcp.Description("Index locator (nci:<author hex>?k=<primary key>) or a local JSON/YAML document path"),
	),
	mcp.WithString("query",
		mcp.Description("Search words"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum results (default 10, max 1000)"),
	),
	mcp.WithBoolean("offline",
		mcp.Description("Resolve a locator from the local event cache only"),
	),
)

var listIndexesToolDef = mcp.NewTool("nci_list_indexes",
	mcp.WithDescription("List published content indexes, newest first, as their metadata declares them."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("author",
		mcp.Description("Only list indexes of this author (npub or hex)"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum indexes (default 20, max 1000)"),
	),
	mcp.WithBoolean("offline",
		mcp.Description("List from the local event cache only"),
	),
)
