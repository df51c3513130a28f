package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/index"
	"github.com/hpungsan/nci/internal/keys"
	"github.com/hpungsan/nci/internal/ops"
	"github.com/hpungsan/nci/internal/relay"
)

var (
	bold    = color.New(color.Bold)
	dim     = color.New(color.Faint)
	green   = color.New(color.FgGreen)
	red     = color.New(color.FgRed)
	yellow  = color.New(color.FgYellow)
	cyan    = color.New(color.FgCyan)
	magenta = color.New(color.FgMagenta)
)

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if nErr, ok := err.(*errors.NciError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", nErr.Code, nErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// printDocumentSummary prints what is about to be published.
func printDocumentSummary(w io.Writer, path string, doc *index.Document) {
	fmt.Fprintf(w, "Loading index file: %s\n", path)
	fmt.Fprintf(w, "   Primary Key: %s\n", doc.PrimaryKey)
	if doc.Title != "" {
		fmt.Fprintf(w, "   Title: %s\n", doc.Title)
	}
	if doc.Summary != "" {
		fmt.Fprintf(w, "   Summary: %s\n", doc.Summary)
	}
	if doc.URL != "" {
		fmt.Fprintf(w, "   URL: %s\n", doc.URL)
	}
	fmt.Fprintf(w, "   Items: %d\n\n", len(doc.Items))
}

// progressPrinter prints one heading per event and its publish result.
func progressPrinter(w io.Writer, endpoints int) func(relay.Progress) {
	return func(p relay.Progress) {
		switch p.State {
		case relay.StatePending:
			if p.Index > 0 {
				fmt.Fprintln(w)
			}
			heading := fmt.Sprintf("--- Event %d/%d", p.Index+1, p.Total)
			if p.Delay > 0 {
				heading += dim.Sprintf(" (publishing in %s)", p.Delay.Round(time.Second))
			}
			fmt.Fprintln(w, heading)
		case relay.StateCompleted:
			if p.Result != nil {
				fmt.Fprintln(w, formatPublishResult(*p.Result, endpoints))
			}
		}
	}
}

// formatPublishResult summarizes one publish: a single line when every
// endpoint accepted, otherwise the accepting endpoints and one line per failure.
func formatPublishResult(res relay.PublishResult, endpoints int) string {
	if res.AllSucceeded(endpoints) {
		return green.Sprint("All relays succeeded")
	}
	var lines []string
	if len(res.Succeeded) > 0 {
		lines = append(lines, green.Sprint("ok: ")+strings.Join(res.Succeeded, ", "))
	}
	failed := make([]string, 0, len(res.Failed))
	for url := range res.Failed {
		failed = append(failed, url)
	}
	slices.Sort(failed)
	for _, url := range failed {
		lines = append(lines, red.Sprint("failed: ")+url+": "+res.Failed[url])
	}
	return strings.Join(lines, "\n")
}

func printSearchResults(w io.Writer, out *ops.SearchOutput) {
	if len(out.Items) == 0 {
		yellow.Fprintln(w, "No results found.")
		return
	}

	name := out.Title
	if name == "" {
		name = out.PrimaryKey
	}
	fmt.Fprintf(w, "Found %d matching item(s) in %q:\n", out.Pagination.Total, name)

	for i, item := range out.Items {
		fmt.Fprintln(w)
		heading := bold.Sprintf("%d. %s", i+1, item.Title)
		if item.Timestamp > 0 {
			heading += dim.Sprintf(" (%s)", time.Unix(item.Timestamp, 0).UTC().Format("2006-01-02"))
		}
		fmt.Fprintln(w, heading)
		fmt.Fprintf(w, "   %s\n", item.Summary)
		if len(item.Tags) > 0 {
			magenta.Fprintf(w, "   %s\n", strings.Join(item.Tags, ", "))
		}
		if len(item.URLs) > 0 {
			cyan.Fprintf(w, "   %s\n", strings.Join(item.URLs, ", "))
		}
	}

	if more := out.Pagination.Total - len(out.Items); more > 0 {
		yellow.Fprintf(w, "... and %d more results\n", more)
	}
}

func printIndexes(w io.Writer, out *ops.ListIndexesOutput) {
	if len(out.Indexes) == 0 {
		fmt.Fprintln(w, "No indexes found.")
		return
	}

	fmt.Fprintf(w, "Found %d index(es):\n\n", out.Pagination.Total)
	for i, ix := range out.Indexes {
		name := ix.Title
		if name == "" {
			name = ix.PrimaryKey
		}
		bold.Fprintf(w, "%d. %s\n", i+1, name)
		if ix.Summary != "" {
			fmt.Fprintf(w, "   %s\n", ix.Summary)
		}
		if ix.URL != "" {
			fmt.Fprintf(w, "   URL: %s\n", ix.URL)
		}
		fmt.Fprintf(w, "   URI: %s\n", ix.URI)
		fmt.Fprintf(w, "   Items: %d\n\n", ix.ItemCount)
	}

	if more := out.Pagination.Total - len(out.Indexes); more > 0 {
		yellow.Fprintf(w, "... and %d more indexes\n", more)
	}
}

func printFetch(w io.Writer, out *ops.FetchOutput) {
	doc := out.Document
	name := doc.Title
	if name == "" {
		name = doc.PrimaryKey
	}
	bold.Fprintln(w, name)
	if npub, err := keys.EncodeNpub(out.Author); err == nil {
		fmt.Fprintf(w, "   Author: %s\n", npub)
	}
	if doc.Summary != "" {
		fmt.Fprintf(w, "   Summary: %s\n", doc.Summary)
	}
	if doc.URL != "" {
		fmt.Fprintf(w, "   URL: %s\n", doc.URL)
	}
	fmt.Fprintf(w, "   URI: %s\n", out.URI)
	fmt.Fprintf(w, "   Items: %d (%d chunk(s), %d event(s))\n", len(doc.Items), out.ChunkCount, out.Events)
	if len(doc.Items) != out.ItemCount {
		yellow.Fprintf(w, "   metadata declares %d item(s)\n", out.ItemCount)
	}
	for _, s := range out.Skipped {
		yellow.Fprintf(w, "   skipped %s: %s %s\n", s.EventID, s.Reason, s.Detail)
	}
}

func printKey(w io.Writer, out *ops.KeyOutput) {
	if out.Generated {
		fmt.Fprintln(w, green.Sprint("Private Key (hex):"), out.SecretHex)
		fmt.Fprintln(w, green.Sprint("Private Key (nsec):"), out.Nsec)
	}
	fmt.Fprintln(w, cyan.Sprint("Public Key (npub):"), out.Npub)
	fmt.Fprintln(w, cyan.Sprint("Public Key (hex):"), out.PublicHex)
}
