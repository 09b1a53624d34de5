package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jo-hoe/schedule2cal/internal/calendar"
)

var (
	weeksFlag int
	fromFlag  string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <schedule.ics>",
	Short: "List the events of a calendar file and their upcoming occurrences",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().IntVarP(&weeksFlag, "weeks", "w", 2, "Number of weeks of occurrences to expand (0 lists events only)")
	inspectCmd.Flags().StringVar(&fromFlag, "from", "", "Start date of the expansion window, YYYY-MM-DD (default: today)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	body, err := os.ReadFile(args[0]) // #nosec G304 - user supplied path is the point of the command
	if err != nil {
		return fmt.Errorf("read calendar: %w", err)
	}

	var w calendar.Window
	if weeksFlag > 0 {
		start := time.Now()
		if fromFlag != "" {
			start, err = time.ParseInLocation("2006-01-02", fromFlag, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --from date: %w", err)
			}
		}
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.Local)
		w = calendar.Window{Start: start, End: start.AddDate(0, 0, 7*weeksFlag)}
	}

	res, err := calendar.Inspect(body, w)
	if err != nil {
		return err
	}
	printInspection(cmd.OutOrStdout(), args[0], len(body), res, w)
	return nil
}

func printInspection(out io.Writer, name string, size int, res calendar.Result, w calendar.Window) {
	fmt.Fprintf(out, "%s: %s, %d event(s)", name, humanize.Bytes(uint64(size)), len(res.Events))
	if res.ProdID != "" {
		fmt.Fprintf(out, ", produced by %s", res.ProdID)
	}
	fmt.Fprintln(out)
	if res.Skipped > 0 {
		fmt.Fprintf(out, "skipped %d malformed event(s)\n", res.Skipped)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nEVENT\tFIRST\tTIME\tLOCATION\tREPEATS")
	for _, ev := range res.Events {
		repeats := "-"
		if ev.RRule != "" {
			repeats = ev.RRule
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ev.Summary, ev.Start.Local().Format("Mon 2006-01-02"), timeRange(ev.AllDay, ev.Start, ev.End), dash(ev.Location), repeats)
	}
	_ = tw.Flush()

	if w.IsZero() {
		return
	}
	fmt.Fprintf(out, "\nOccurrences %s to %s: %s\n",
		w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"), humanize.Comma(int64(len(res.Occurrences))))
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, o := range res.Occurrences {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			o.Start.Local().Format("Mon Jan 2"), timeRange(o.AllDay, o.Start, o.End), o.Summary, humanize.Time(o.Start))
	}
	_ = tw.Flush()
	for _, uid := range res.Truncated {
		fmt.Fprintf(out, "occurrences of %s were truncated\n", uid)
	}
}

func timeRange(allDay bool, start, end time.Time) string {
	if allDay {
		return "all day"
	}
	return start.Local().Format("15:04") + "-" + end.Local().Format("15:04")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
