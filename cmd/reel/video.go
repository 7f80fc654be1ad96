package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/zulandar/reelyard/internal/job"
	"github.com/zulandar/reelyard/internal/models"
)

func newVideoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Inspect and retry videos",
	}

	cmd.AddCommand(newVideoListCmd())
	cmd.AddCommand(newVideoShowCmd())
	cmd.AddCommand(newVideoRetryCmd())
	return cmd
}

func newVideoListCmd() *cobra.Command {
	var (
		configPath string
		jobID      string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List videos",
		Long:  "Lists videos in claim order with optional filters. Output is formatted as a table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVideoList(cmd, configPath, job.VideoFilters{JobID: jobID, Status: status, Limit: limit})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Reelyard config file")
	cmd.Flags().StringVar(&jobID, "job", "", "filter by job ID")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of videos")
	return cmd
}

func runVideoList(cmd *cobra.Command, configPath string, filters job.VideoFilters) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	videos, err := job.ListVideos(gormDB, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(videos) == 0 {
		fmt.Fprintln(out, "No videos found.")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tJOB\tIDX\tSTATUS\tWORKER\tUPDATED\tTITLE")
	for _, v := range videos {
		worker := v.ClaimedBy
		if worker == "" {
			worker = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			v.ID, v.JobID, v.Idx, v.Status, worker, formatAge(v.UpdatedAt, now), truncate(v.Title, 40))
	}
	w.Flush()
	return nil
}

func newVideoShowCmd() *cobra.Command {
	var (
		configPath string
		segments   bool
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show video details and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVideoShow(cmd, configPath, args[0], segments)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Reelyard config file")
	cmd.Flags().BoolVar(&segments, "segments", false, "print timed segments instead of the full text")
	return cmd
}

func runVideoShow(cmd *cobra.Command, configPath, id string, segments bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	var v models.Video
	if err := gormDB.Where("id = ?", id).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("video not found: %s", id)
		}
		return fmt.Errorf("get video %s: %w", id, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:        %s\n", v.ID)
	fmt.Fprintf(out, "Job:       %s (idx %d)\n", v.JobID, v.Idx)
	fmt.Fprintf(out, "URL:       %s\n", v.URL)
	if v.Title != "" {
		fmt.Fprintf(out, "Title:     %s\n", v.Title)
	}
	fmt.Fprintf(out, "Status:    %s\n", v.Status)
	fmt.Fprintf(out, "Duration:  %s\n", formatDuration(v.Duration))
	if v.ClaimedBy != "" {
		fmt.Fprintf(out, "Worker:    %s\n", v.ClaimedBy)
	}
	if msg := deref(v.Error); msg != "" {
		fmt.Fprintf(out, "Error:     %s\n", msg)
	}

	var tr models.Transcript
	err = gormDB.Preload("Segments", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("idx ASC")
	}).Where("video_id = ?", v.ID).First(&tr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fmt.Fprintln(out, "\nNo transcript yet.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transcript for %s: %w", v.ID, err)
	}

	fmt.Fprintf(out, "\nTranscript: model=%s source=%s language=%s segments=%d\n",
		tr.Model, tr.Source, tr.Language, len(tr.Segments))
	if !segments {
		fmt.Fprintln(out, tr.FullText)
		return nil
	}
	for _, s := range tr.Segments {
		speaker := ""
		if s.Speaker != nil {
			speaker = " [" + *s.Speaker + "]"
		}
		fmt.Fprintf(out, "%s - %s%s %s\n",
			formatMS(s.StartMS), formatMS(s.EndMS), speaker, s.Text)
	}
	return nil
}

func formatMS(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d",
		int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second), int(d%time.Second/time.Millisecond))
}

func newVideoRetryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Move a failed video back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := job.RetryVideo(gormDB, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Video %s queued for retry\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Reelyard config file")
	return cmd
}
