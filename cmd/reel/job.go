package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/reelyard/internal/job"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Submit and inspect jobs",
	}

	cmd.AddCommand(newJobAddCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobShowCmd())
	return cmd
}

func newJobAddCmd() *cobra.Command {
	var (
		configPath string
		kind       string
		language   string
		captions   string
		diarize    bool
	)

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Submit a video or channel URL",
		Long:  "Creates a pending job. The kind is detected from the URL unless --kind is given; a running worker expands it into videos.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := job.CreateOpts{
				URL:      args[0],
				Kind:     kind,
				Language: language,
				Captions: captions,
			}
			if cmd.Flags().Changed("diarize") {
				opts.Diarize = &diarize
			}
			return runJobAdd(cmd, configPath, opts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Reelyard config file")
	cmd.Flags().StringVar(&kind, "kind", "", "job kind (single, channel)")
	cmd.Flags().StringVar(&language, "language", "", "force the transcription language (e.g. en)")
	cmd.Flags().StringVar(&captions, "captions", "", "caption mode for this job (off, fallback, prefer)")
	cmd.Flags().BoolVar(&diarize, "diarize", true, "run speaker diarization when it is configured")
	return cmd
}

func runJobAdd(cmd *cobra.Command, configPath string, opts job.CreateOpts) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	j, err := job.Create(gormDB, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created job %s\n", j.ID)
	fmt.Fprintf(out, "Kind: %s\n", j.Kind)
	return nil
}

func newJobListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		kind       string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Long:  "Lists jobs, newest first, with optional filters. Output is formatted as a table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobList(cmd, configPath, job.ListFilters{Status: status, Kind: kind, Limit: limit})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Reelyard config file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs")
	return cmd
}

func runJobList(cmd *cobra.Command, configPath string, filters job.ListFilters) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	jobs, err := job.List(gormDB, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found.")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tURL\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Kind, j.Status, truncate(j.InputURL, 50), formatAge(j.CreatedAt, now))
	}
	w.Flush()
	return nil
}

func newJobShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show job details",
		Long:  "Displays a job, its options and every video it expanded into.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Reelyard config file")
	return cmd
}

func runJobShow(cmd *cobra.Command, configPath, id string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	j, err := job.Get(gormDB, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:        %s\n", j.ID)
	fmt.Fprintf(out, "Kind:      %s\n", j.Kind)
	fmt.Fprintf(out, "Status:    %s\n", j.Status)
	fmt.Fprintf(out, "URL:       %s\n", j.InputURL)
	fmt.Fprintf(out, "Created:   %s\n", j.CreatedAt.Format(time.RFC3339))
	if j.Attempts > 0 {
		fmt.Fprintf(out, "Attempts:  %d\n", j.Attempts)
	}
	if msg := deref(j.Error); msg != "" {
		fmt.Fprintf(out, "Error:     %s\n", msg)
	}
	if opts, err := j.Options(); err == nil {
		if opts.Language != "" {
			fmt.Fprintf(out, "Language:  %s\n", opts.Language)
		}
		if opts.Captions != "" {
			fmt.Fprintf(out, "Captions:  %s\n", opts.Captions)
		}
		if opts.Diarize != nil {
			fmt.Fprintf(out, "Diarize:   %t\n", *opts.Diarize)
		}
	}

	if len(j.Videos) == 0 {
		fmt.Fprintln(out, "\nNo videos yet.")
		return nil
	}

	counts, err := job.StatusCounts(gormDB, j.ID)
	if err != nil {
		return err
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	fmt.Fprintf(out, "\nVideos (%d):", len(j.Videos))
	for _, s := range statuses {
		fmt.Fprintf(out, " %s=%d", s, counts[s])
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDX\tID\tSTATUS\tDURATION\tTITLE")
	for _, v := range j.Videos {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			v.Idx, v.ID, v.Status, formatDuration(v.Duration), truncate(v.Title, 50))
	}
	w.Flush()
	return nil
}
