package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/jrtknauer/pycraft2/internal/db"
	"github.com/jrtknauer/pycraft2/internal/server"
)

// printReport renders the outcome of a match run.
func printReport(w io.Writer, report *server.Report) {
	if report == nil {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Match ID:  %s\n", report.MatchID)
	if report.Map != "" {
		fmt.Fprintf(w, "  Map:       %s\n", report.Map)
	}
	fmt.Fprintf(w, "  Steps:     %d\n", report.Steps)
	fmt.Fprintf(w, "  Duration:  %s\n", report.Duration().Round(time.Millisecond))
	if report.Error != "" {
		fmt.Fprintf(w, "  Aborted:   during %s: %s\n", report.Phase, report.Error)
	}
	fmt.Fprintln(w)

	if len(report.Results) == 0 {
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Player ID", "Player", "Result"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, r := range report.Results {
		tw.Append([]string{
			fmt.Sprintf("%d", r.PlayerID),
			r.PlayerName,
			r.Outcome.String(),
		})
	}
	tw.Render()
	fmt.Fprintln(w)
}

// printHistory renders stored matches, newest first.
func printHistory(w io.Writer, records []db.MatchRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No matches recorded yet.")
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Recorded", "Match ID", "Map", "Status", "Steps", "Duration", "Results"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, rec := range records {
		results := make([]string, 0, len(rec.Results))
		for _, r := range rec.Results {
			results = append(results, fmt.Sprintf("%d:%s", r.PlayerID, r.Outcome))
		}

		status := rec.Status
		if rec.Status == db.StatusAborted && rec.Phase != "" {
			status = fmt.Sprintf("%s (%s)", rec.Status, rec.Phase)
		}

		tw.Append([]string{
			rec.RecordedAt.Format("2006-01-02 15:04:05"),
			rec.MatchID,
			rec.Map,
			status,
			fmt.Sprintf("%d", rec.Steps),
			rec.Duration.Round(time.Millisecond).String(),
			strings.Join(results, " "),
		})
	}

	tw.Render()
}
