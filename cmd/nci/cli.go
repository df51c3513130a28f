package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/index"
	"github.com/hpungsan/nci/internal/mcp"
	"github.com/hpungsan/nci/internal/ops"
	"github.com/hpungsan/nci/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(rt *runtime) *cli.App {
	app := &cli.App{
		Name:    "nci",
		Usage:   "Publish and search content indexes on nostr relays",
		Version: Version,
		Commands: []*cli.Command{
			publishCmd(rt),
			searchCmd(rt),
			listIndexesCmd(rt),
			fetchCmd(rt),
			deleteCmd(rt),
			keyCmd(rt),
			serveCmd(rt),
			mcpCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func relayFlag() cli.Flag {
	return &cli.StringSliceFlag{Name: "relay", Aliases: []string{"r"}, Usage: "Relay URL (repeatable; overrides NCI_RELAYS and config)"}
}

func privkeyFlag() cli.Flag {
	return &cli.StringFlag{Name: "privkey", Usage: "Secret key for signing, hex or nsec (default: $NCI_PRIVKEY)"}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Print JSON instead of text"}
}

func verboseFlag() cli.Flag {
	return &cli.BoolFlag{Name: "verbose", Usage: "Log debug output to stderr"}
}

func offlineFlag(usage string) cli.Flag {
	return &cli.BoolFlag{Name: "offline", Usage: usage}
}

// publishCmd creates the publish command.
func publishCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "Publish an index file (YAML or JSON)",
		ArgsUsage: "<file>",
		Flags:     []cli.Flag{privkeyFlag(), relayFlag(), jsonFlag(), verboseFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one index file is required"))
			}
			path := c.Args().First()

			signer, err := rt.signer(c)
			if err != nil {
				return outputError(err)
			}
			doc, err := index.LoadFile(path)
			if err != nil {
				return outputError(err)
			}

			env, err := rt.env(c)
			if err != nil {
				return outputError(err)
			}
			defer env.Transport.Close()

			input := ops.PublishInput{Document: *doc, Signer: signer}
			if !c.Bool("json") {
				printDocumentSummary(rt.stdout, path, doc)
				input.Report = progressPrinter(rt.stdout, len(env.Transport.Endpoints()))
			}

			out, err := ops.Publish(c.Context, env, input)
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				return outputJSON(rt.stdout, out)
			}
			fmt.Fprintf(rt.stdout, "\nURI: %s\n", out.URI)
			if !out.Complete {
				yellow.Fprintln(rt.stdout, "Some relays did not accept every event.")
			}
			return nil
		},
	}
}

// searchCmd creates the search command.
func searchCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the items of an index file or a published index",
		ArgsUsage: "<file|nci:<author>?k=<key>> [query...]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultSearchLimit, Usage: "Maximum results"},
			offlineFlag("Resolve a locator from the local event cache only"),
			relayFlag(), jsonFlag(), verboseFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("a source is required"))
			}
			source := c.Args().First()
			query := strings.Join(c.Args().Tail(), " ")

			env, err := rt.env(c)
			if err != nil {
				return outputError(err)
			}
			defer env.Transport.Close()

			out, err := ops.Search(c.Context, env, ops.SearchInput{
				Source:  source,
				Query:   query,
				Limit:   c.Int("limit"),
				Offline: c.Bool("offline"),
			})
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				return outputJSON(rt.stdout, out)
			}
			printSearchResults(rt.stdout, out)
			return nil
		},
	}
}

// listIndexesCmd creates the list-indexes command.
func listIndexesCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "list-indexes",
		Usage: "List published indexes, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"author", "u"}, Usage: "Only list indexes of this author (npub or hex)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum indexes"},
			offlineFlag("List from the local event cache only"),
			relayFlag(), jsonFlag(), verboseFlag(),
		},
		Action: func(c *cli.Context) error {
			env, err := rt.env(c)
			if err != nil {
				return outputError(err)
			}
			defer env.Transport.Close()

			out, err := ops.ListIndexes(c.Context, env, ops.ListIndexesInput{
				Author:  c.String("user"),
				Limit:   c.Int("limit"),
				Offline: c.Bool("offline"),
			})
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				return outputJSON(rt.stdout, out)
			}
			printIndexes(rt.stdout, out)
			return nil
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch and assemble a published index",
		ArgsUsage: "<nci:<author>?k=<key>>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the document to a .yaml/.yml/.json file"},
			&cli.BoolFlag{Name: "export", Usage: "Write the document to ~/.nci/exports"},
			offlineFlag("Assemble from the local event cache only"),
			relayFlag(), jsonFlag(), verboseFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one locator is required"))
			}

			env, err := rt.env(c)
			if err != nil {
				return outputError(err)
			}
			defer env.Transport.Close()

			out, err := ops.Fetch(c.Context, env, ops.FetchInput{
				Locator: c.Args().First(),
				Offline: c.Bool("offline"),
			})
			if err != nil {
				return outputError(err)
			}

			var exported *ops.ExportOutput
			if c.String("out") != "" || c.Bool("export") {
				exported, err = ops.Export(c.Context, ops.ExportInput{
					Document:   out.Document,
					Path:       c.String("out"),
					ExportsDir: ops.ExportsDir(rt.baseDir),
				})
				if err != nil {
					return outputError(err)
				}
			}

			if c.Bool("json") {
				if exported != nil {
					return outputJSON(rt.stdout, map[string]any{"fetch": out, "export": exported})
				}
				return outputJSON(rt.stdout, out)
			}
			printFetch(rt.stdout, out)
			if exported != nil {
				green.Fprintf(rt.stdout, "Wrote %d item(s) to %s\n", exported.Items, exported.Path)
			}
			return nil
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Request deletion of every nci event of your key",
		Flags: []cli.Flag{
			privkeyFlag(),
			&cli.BoolFlag{Name: "confirm", Usage: "Confirm deletion; it cannot be undone"},
			relayFlag(), jsonFlag(), verboseFlag(),
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("confirm") {
				yellow.Fprintln(rt.stdout, "This requests deletion of every nci event published with your key.")
				fmt.Fprintln(rt.stdout, "   This action cannot be undone.")
				fmt.Fprintln(rt.stdout, "   Add --confirm to proceed.")
				return outputError(errors.NewInvalidRequest("--confirm is required"))
			}

			signer, err := rt.signer(c)
			if err != nil {
				return outputError(err)
			}

			env, err := rt.env(c)
			if err != nil {
				return outputError(err)
			}
			defer env.Transport.Close()

			out, err := ops.Delete(c.Context, env, ops.DeleteInput{Signer: signer, Confirm: true})
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				return outputJSON(rt.stdout, out)
			}
			if out.Tombstone != nil {
				fmt.Fprintf(rt.stdout, "Found %d nci event(s) to delete.\n", out.Found)
				fmt.Fprintln(rt.stdout, formatPublishResult(out.Result, len(env.Transport.Endpoints())))
			}
			fmt.Fprintln(rt.stdout, out.Message)
			return nil
		},
	}
}

// keyCmd creates the key command.
func keyCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "key",
		Usage:     "Show the public key of a secret key, or generate a new key",
		ArgsUsage: "[secret]",
		Flags:     []cli.Flag{jsonFlag()},
		Action: func(c *cli.Context) error {
			out, err := ops.Key(ops.KeyInput{Secret: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(rt.stdout, out)
			}
			printKey(rt.stdout, out)
			return nil
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Browse indexes in a local web viewer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8017, Usage: "Port to listen on"},
			relayFlag(), verboseFlag(),
		},
		Action: func(c *cli.Context) error {
			env, err := rt.env(c)
			if err != nil {
				return outputError(err)
			}
			defer env.Transport.Close()

			srv, err := web.NewServer(env, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := web.Run(srv, env.Logger); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// mcpCmd creates the mcp command. Piped stdin without arguments runs the
// same server.
func mcpCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Flags: []cli.Flag{relayFlag(), verboseFlag()},
		Action: func(c *cli.Context) error {
			if err := runMCP(rt, c); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

func runMCP(rt *runtime, c *cli.Context) error {
	env, err := rt.env(c)
	if err != nil {
		return err
	}
	defer env.Transport.Close()

	if unknown := mcp.ValidateDisabledTools(rt.cfg.DisabledTools); len(unknown) > 0 {
		env.Logger.Warn("unknown tools in disabled_tools", "tools", unknown, "known", mcp.AllToolNames())
	}
	return mcp.Run(env, Version)
}
