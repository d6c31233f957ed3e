package report

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/linkstorm/linkstorm/pkg/cli"
	"github.com/linkstorm/linkstorm/pkg/config"
	"github.com/linkstorm/linkstorm/pkg/download"
	"github.com/linkstorm/linkstorm/pkg/store"
)

const longDesc = `
'report' prints the transfers recorded in the state database of the output folder. By default only the most recent
session is shown.
`

var (
	session string
	all     bool
	limit   int
)

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "report [flags]",
		Short:   "show the outcome of past transfers",
		Long:    longDesc,
		Args:    cobra.NoArgs,
		RunE:    runReportCMD,
		Example: "  linkstorm report -o music --all --limit 20",
	}
	cmd.Flags().StringVar(&session, "session", "", "Session id to show, defaults to the latest session")
	cmd.Flags().BoolVar(&all, "all", false, "Show transfers of every session")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of transfers shown, 0 means no limit")
	cmd.SetUsageTemplate(cli.UsageTemplate)
	return cmd
}

func runReportCMD(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	path := config.StateDBPath()
	if path == "" {
		return errors.New("the state database is disabled, nothing to report")
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("state database %s does not exist", path)
	}
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	q := store.Query{Session: session, Limit: limit}
	if q.Session == "" && !all {
		q.Session, err = st.LatestSession(cmd.Context())
		if err != nil {
			return err
		}
	}
	records, err := st.Transfers(cmd.Context(), q)
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), records)
}

func printReport(w io.Writer, records []store.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No transfers recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATUS\tSIZE\tSTRATEGY\tDURATION\tTHROUGHPUT\tERRORS\tFINISHED\tLAST ERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.FileName,
			r.Status,
			humanize.Bytes(uint64(max(r.Bytes, 0))),
			orDash(string(r.Strategy)),
			formatDuration(r.Duration()),
			formatThroughput(r.Snapshot),
			r.Errors,
			formatTime(r.End),
			orDash(r.LastError),
		)
	}
	return tw.Flush()
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func formatThroughput(snap download.Snapshot) string {
	if snap.Status != download.StatusCompleted {
		return "-"
	}
	return download.Throughput(snap.Bytes, snap.Duration())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
