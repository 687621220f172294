package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/scrapernhl/scrapekit/pkg/batch"
	"github.com/scrapernhl/scrapekit/pkg/cache"
)

// maxListedFailures bounds the failure table of the run summary.
const maxListedFailures = 20

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

func renderSummary(w io.Writer, s batch.Summary) {
	status := green
	switch {
	case s.Interrupted:
		status = yellow
	case s.Failed > 0:
		status = red
	}

	bold.Fprintln(w, "Batch summary")
	status.Fprintln(w, s.String())
	if s.Resumed > 0 {
		fmt.Fprintf(w, "Resumed %d items from checkpoint\n", s.Resumed)
	}
	if s.Cached > 0 {
		fmt.Fprintf(w, "Served %d items from cache\n", s.Cached)
	}

	if len(s.FailuresByKind) > 0 {
		kinds := make([]string, 0, len(s.FailuresByKind))
		for kind := range s.FailuresByKind {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)

		table := tablewriter.NewWriter(w)
		table.Header("Failure kind", "Items")
		for _, kind := range kinds {
			_ = table.Append(kind, strconv.Itoa(s.FailuresByKind[kind]))
		}
		_ = table.Render()
	}

	if len(s.Failures) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Item", "Kind", "Attempts", "Message")
		for i, f := range s.Failures {
			if i == maxListedFailures {
				break
			}
			_ = table.Append(f.ItemID, f.Kind, strconv.Itoa(f.Attempts), f.Message)
		}
		_ = table.Render()
		if extra := len(s.Failures) - maxListedFailures; extra > 0 {
			fmt.Fprintf(w, "... and %d more failures\n", extra)
		}
	}
}

func renderCacheStats(w io.Writer, s cache.Stats) {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	_ = table.Append("Store", s.Store)
	_ = table.Append("Location", s.Location)
	_ = table.Append("Total entries", strconv.Itoa(s.TotalEntries))
	_ = table.Append("Valid", strconv.Itoa(s.ValidEntries))
	_ = table.Append("Expired", strconv.Itoa(s.ExpiredEntries))
	_ = table.Append("Corrupt", strconv.Itoa(s.CorruptEntries))
	_ = table.Append("Size", humanBytes(s.TotalSizeBytes))
	_ = table.Append("Oldest entry", s.OldestAge.Round(time.Second).String())
	_ = table.Render()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
