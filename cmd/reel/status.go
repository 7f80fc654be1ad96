package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/reelyard/internal/models"
	"github.com/zulandar/reelyard/internal/status"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job, video and transcript counts",
		Long:  "Displays job and video counts by status, transcripts by model, and the most recent failures. Use --watch for auto-refresh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Reelyard config file")
	cmd.Flags().BoolVar(&watch, "watch", false, "auto-refresh every 5 seconds")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string, watch bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	for {
		summary, err := status.Summarize(gormDB)
		if err != nil {
			return err
		}
		failures, err := status.RecentFailures(gormDB, 5)
		if err != nil {
			return err
		}

		if watch {
			// Clear screen.
			fmt.Fprint(out, "\033[2J\033[H")
		}
		writeStatus(out, summary, failures)

		if !watch {
			return nil
		}
		select {
		case <-cmd.Context().Done():
			return nil
		case <-time.After(5 * time.Second):
		}
	}
}

var (
	jobOrder   = []string{models.JobPending, models.JobDownloading, models.JobCompleted, models.JobFailed}
	videoOrder = []string{models.VideoPending, models.VideoDownloading, models.VideoTranscoding,
		models.VideoTranscribing, models.VideoDiarizing, models.VideoCompleted, models.VideoFailed}
)

func writeStatus(out io.Writer, s status.Summary, failures []status.FailureRow) {
	fmt.Fprintln(out, "Jobs:")
	writeCounts(out, jobOrder, s.Jobs)
	fmt.Fprintln(out, "Videos:")
	writeCounts(out, videoOrder, s.Videos)
	fmt.Fprintf(out, "  in flight: %d\n", s.InFlight)

	if len(s.Transcripts) > 0 {
		fmt.Fprintln(out, "Transcripts by model:")
		names := make([]string, 0, len(s.Transcripts))
		for m := range s.Transcripts {
			names = append(names, m)
		}
		sort.Strings(names)
		for _, m := range names {
			fmt.Fprintf(out, "  %-24s %d\n", m, s.Transcripts[m])
		}
	}

	if len(failures) > 0 {
		fmt.Fprintln(out, "Recent failures:")
		for _, f := range failures {
			fmt.Fprintf(out, "  %s  %s\n", f.VideoID, truncate(f.Error, 80))
		}
	}
}

func writeCounts(out io.Writer, order []string, counts map[string]int64) {
	for _, st := range order {
		fmt.Fprintf(out, "  %-13s %d\n", st, counts[st])
	}
}
