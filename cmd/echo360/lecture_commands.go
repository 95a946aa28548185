package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hananf11/echo360/internal/store"
	"github.com/hananf11/echo360/internal/textutil"
)

func newLectureCommand(ctx *commandContext) *cobra.Command {
	lectureCmd := &cobra.Command{
		Use:   "lecture",
		Short: "Inspect and process individual lectures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	lectureCmd.AddCommand(newLectureShowCommand(ctx))
	lectureCmd.AddCommand(newLectureActionCommand(ctx, "download", "Queue audio retrieval and conversion", "/enqueue"))
	lectureCmd.AddCommand(newLectureActionCommand(ctx, "transcribe", "Queue transcription", "/transcribe"))
	lectureCmd.AddCommand(newLectureActionCommand(ctx, "notes", "Queue note generation", "/notes"))
	lectureCmd.AddCommand(newLectureActionCommand(ctx, "frames", "Queue video frame extraction", "/frames"))
	lectureCmd.AddCommand(newLectureActionCommand(ctx, "redownload", "Discard artifacts and reprocess from scratch", "/redownload"))
	lectureCmd.AddCommand(newLectureTranscriptCommand(ctx))
	lectureCmd.AddCommand(newLectureNoteCommand(ctx))
	return lectureCmd
}

func newLectureShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <lecture-id>",
		Short: "Show a lecture's status on every axis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lecture store.Lecture
			if err := ctx.getJSON("/api/lectures/"+args[0], &lecture); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", lecture.Title)
			if lecture.Date != "" {
				fmt.Fprintf(out, "  date:     %s\n", lecture.Date)
			}
			if lecture.DurationSeconds > 0 {
				fmt.Fprintf(out, "  length:   %s\n", textutil.FormatTimestamp(lecture.DurationSeconds))
			}
			fmt.Fprintf(out, "  video:    %s (retrievable %s)\n", yesNo(lecture.HasVideo), yesNo(lecture.AvailableVideo))

			axes := []struct {
				name   string
				status string
				detail string
			}{
				{"audio", string(lecture.AudioStatus), lecture.AudioError},
				{"transcript", string(lecture.TranscriptStatus), lecture.TranscriptError},
				{"notes", string(lecture.NotesStatus), lecture.NotesError},
				{"frames", string(lecture.FramesStatus), lecture.FramesError},
			}
			for _, axis := range axes {
				line := fmt.Sprintf("  %-10s %s", axis.name+":", axis.status)
				if axis.detail != "" {
					line += " (" + axis.detail + ")"
				}
				fmt.Fprintln(out, line)
			}
			if lecture.OpusPath != "" {
				fmt.Fprintf(out, "  audio file: %s\n", lecture.OpusPath)
			}
			return nil
		},
	}
}

func newLectureActionCommand(ctx *commandContext, name, short, endpoint string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <lecture-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid lecture id %q", args[0])
			}
			if err := ctx.postJSON("/api/lectures/"+args[0]+endpoint, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queued")
			return nil
		},
	}
}

func newLectureTranscriptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "transcript <lecture-id>",
		Short: "Print a lecture's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var transcript store.Transcript
			if err := ctx.getJSON("/api/lectures/"+args[0]+"/transcript", &transcript); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), transcript.Text)
			return nil
		},
	}
}

func newLectureNoteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "note <lecture-id>",
		Short: "Print a lecture's generated notes as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var stored store.Notes
			if err := ctx.getJSON("/api/lectures/"+args[0]+"/notes", &stored); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if stored.Title != "" {
				fmt.Fprintf(out, "# %s\n\n", stored.Title)
			}
			fmt.Fprintln(out, stored.Content)
			if len(stored.FrameTimestamps) > 0 {
				fmt.Fprintln(out, "\n## Key moments")
				for _, ts := range stored.FrameTimestamps {
					fmt.Fprintf(out, "- %s %s\n", textutil.FormatTimestamp(ts.TimeSeconds), ts.Reason)
				}
			}
			return nil
		},
	}
}
