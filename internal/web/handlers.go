package web

import (
	"net/http"
	"strconv"

	"github.com/hpungsan/nci/internal/ops"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	env      ops.Env
	renderer *Renderer
}

// HandleList handles GET /indexes.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	author := r.URL.Query().Get("author")
	offline := parseBoolParam(r, "offline")

	result, err := ops.ListIndexes(r.Context(), h.env, ops.ListIndexesInput{
		Author:  author,
		Limit:   parseIntParam(r, "limit", ops.DefaultListLimit),
		Offline: offline,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, "list", ListPageData{
		PageData:   h.renderer.page("Indexes", "indexes"),
		Indexes:    result.Indexes,
		Pagination: result.Pagination,
		Author:     author,
		Offline:    offline,
	})
}

// HandleDetail handles GET /indexes/{author}/{key}: one index, its items
// filtered by the optional q parameter.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	offline := parseBoolParam(r, "offline")

	fetched, err := ops.Fetch(r.Context(), h.env, ops.FetchInput{
		Locator: ops.FormatLocator(r.PathValue("author"), r.PathValue("key")),
		Offline: offline,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	limit := min(parseIntParam(r, "limit", ops.MaxSearchLimit), ops.MaxSearchLimit)
	found, err := ops.SearchDocument(r.Context(), fetched.Document, query, limit)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, found)
		return
	}

	results := make([]ResultView, len(found.Items))
	for i, item := range found.Items {
		results[i] = ResultView{
			SearchResultItem: item,
			SummaryHTML:      h.renderer.renderMarkdown(item.Summary),
		}
	}

	title := fetched.Document.Title
	if title == "" {
		title = fetched.Document.PrimaryKey
	}
	h.renderer.renderPage(w, "detail", DetailPageData{
		PageData:    h.renderer.page(title, "indexes"),
		Index:       fetched,
		SummaryHTML: h.renderer.renderMarkdown(fetched.Document.Summary),
		Query:       query,
		Results:     results,
		Pagination:  found.Pagination,
		Offline:     offline,
	})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
