package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hananf11/echo360/internal/store"
)

type statusResponse struct {
	Audio        store.StatusCounts  `json:"audio"`
	Totals       store.LibraryTotals `json:"totals"`
	RunningTasks int                 `json:"running_tasks"`
	LibraryBytes int64               `json:"library_bytes"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline progress and library totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status statusResponse
			if err := ctx.getJSON("/api/status", &status); err != nil {
				return err
			}

			rows := [][]string{
				{"pending", strconv.Itoa(status.Audio.Pending)},
				{"queued", strconv.Itoa(status.Audio.Queued)},
				{"in flight", strconv.Itoa(status.Audio.InFlight)},
				{"downloaded", strconv.Itoa(status.Audio.Downloaded)},
				{"done", strconv.Itoa(status.Audio.Done)},
				{"errored", strconv.Itoa(status.Audio.Errored)},
				{"no media", strconv.Itoa(status.Audio.NoMedia)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Audio", "Lectures"}, rows,
				[]columnAlignment{alignLeft, alignRight}))

			var progress []store.CourseProgress
			if err := ctx.getJSON("/api/progress", &progress); err != nil {
				return err
			}
			if len(progress) > 0 {
				rows := make([][]string, 0, len(progress))
				for _, course := range progress {
					rows = append(rows, []string{
						course.Course,
						strconv.Itoa(course.Lectures),
						strconv.Itoa(course.AudioDone),
						strconv.Itoa(course.Transcribed),
						strconv.Itoa(course.Noted),
						strconv.Itoa(course.Errored),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout())
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Course", "Lectures", "Audio", "Transcripts", "Notes", "Errors"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight}))
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"\n%d courses, %d lectures, %d transcripts, %d notes, %d frames, %d running tasks\n",
				status.Totals.Courses, status.Totals.Lectures, status.Totals.Transcripts,
				status.Totals.Notes, status.Totals.Frames, status.RunningTasks)
			fmt.Fprintf(cmd.OutOrStdout(), "library size: %s\n", formatBytes(status.LibraryBytes))
			return nil
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	value, exp := float64(n), 0
	for value >= unit && exp < 4 {
		value /= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", value, "KMGT"[exp-1])
}

func newQueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List lectures with work in flight",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var lectures []store.Lecture
			if err := ctx.getJSON("/api/active", &lectures); err != nil {
				return err
			}
			if len(lectures) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing in flight")
				return nil
			}

			rows := make([][]string, 0, len(lectures))
			for _, lecture := range lectures {
				rows = append(rows, []string{
					strconv.FormatInt(lecture.ID, 10),
					lecture.Title,
					string(lecture.AudioStatus),
					string(lecture.TranscriptStatus),
					string(lecture.NotesStatus),
					string(lecture.FramesStatus),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Audio", "Transcript", "Notes", "Frames"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft}))
			return nil
		},
	}
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh courses and lectures from the platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.postJSON("/api/courses/sync", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sync complete")
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Re-queue every errored lecture stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				Retried int `json:"retried"`
			}
			if err := ctx.postJSON("/api/retry", nil, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "retried %d stages\n", result.Retried)
			return nil
		},
	}
}
