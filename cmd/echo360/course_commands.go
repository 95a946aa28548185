package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hananf11/echo360/internal/store"
	"github.com/hananf11/echo360/internal/textutil"
)

func newCourseCommand(ctx *commandContext) *cobra.Command {
	courseCmd := &cobra.Command{
		Use:   "course",
		Short: "Manage subscribed courses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	courseCmd.AddCommand(newCourseAddCommand(ctx))
	courseCmd.AddCommand(newCourseRemoveCommand(ctx))
	courseCmd.AddCommand(newCourseListCommand(ctx))
	courseCmd.AddCommand(newCourseSyncCommand(ctx))
	courseCmd.AddCommand(newCourseEnableCommand(ctx, true))
	courseCmd.AddCommand(newCourseEnableCommand(ctx, false))
	courseCmd.AddCommand(newCourseRenameCommand(ctx))
	courseCmd.AddCommand(newCourseEnqueueCommand(ctx))
	courseCmd.AddCommand(newCourseLecturesCommand(ctx))
	return courseCmd
}

func newCourseAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <section-url>",
		Short: "Subscribe to a course by section URL or UUID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				Course      store.Course `json:"course"`
				NewLectures int          `json:"new_lectures"`
			}
			body := map[string]string{"url": args[0]}
			if err := ctx.postJSON("/api/courses", body, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (id %d), %d lectures\n",
				result.Course.Title(), result.Course.ID, result.NewLectures)
			return nil
		},
	}
}

func newCourseRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <course-id>",
		Short: "Unsubscribe from a course and forget its lectures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.deleteJSON("/api/courses/"+args[0], nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed; downloaded files were kept")
			return nil
		},
	}
}

func newCourseListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List subscribed courses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var courses []store.Course
			if err := ctx.getJSON("/api/courses", &courses); err != nil {
				return err
			}
			if len(courses) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no courses; run `echo360 sync` first")
				return nil
			}

			rows := make([][]string, 0, len(courses))
			for _, course := range courses {
				term := course.Term
				if course.Year > 0 {
					term = strings.TrimSpace(fmt.Sprintf("%s %d", course.Term, course.Year))
				}
				rows = append(rows, []string{
					strconv.FormatInt(course.ID, 10),
					course.Title(),
					term,
					yesNo(course.Enabled),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Course", "Term", "Enabled"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}))
			return nil
		},
	}
}

func newCourseSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <course-id>",
		Short: "Refresh one course's lectures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				NewLectures int `json:"new_lectures"`
			}
			if err := ctx.postJSON("/api/courses/"+args[0]+"/sync", nil, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced, %d new lectures\n", result.NewLectures)
			return nil
		},
	}
}

func newCourseEnableCommand(ctx *commandContext, enable bool) *cobra.Command {
	use, short := "enable <course-id>", "Include a course in scheduled syncs"
	if !enable {
		use, short = "disable <course-id>", "Exclude a course from scheduled syncs"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]bool{"enabled": enable}
			return ctx.postJSON("/api/courses/"+args[0]+"/enabled", body, nil)
		},
	}
}

func newCourseRenameCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <course-id> <display-name>",
		Short: "Set the display name used for directories and notes",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args[1:], " ")
			body := map[string]string{"display_name": name}
			return ctx.postJSON("/api/courses/"+args[0]+"/display-name", body, nil)
		},
	}
}

func newCourseEnqueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <course-id>",
		Short: "Queue every retrievable lecture in a course",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				Queued int `json:"queued"`
			}
			if err := ctx.postJSON("/api/courses/"+args[0]+"/enqueue", nil, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d lectures\n", result.Queued)
			return nil
		},
	}
}

func newCourseLecturesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "lectures <course-id>",
		Short: "List a course's lectures with per-stage status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lectures []store.Lecture
			if err := ctx.getJSON("/api/courses/"+args[0]+"/lectures", &lectures); err != nil {
				return err
			}
			if len(lectures) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no lectures")
				return nil
			}

			rows := make([][]string, 0, len(lectures))
			for _, lecture := range lectures {
				rows = append(rows, []string{
					strconv.FormatInt(lecture.ID, 10),
					lecture.Date,
					lecture.Title,
					textutil.FormatTimestamp(lecture.DurationSeconds),
					string(lecture.AudioStatus),
					string(lecture.TranscriptStatus),
					string(lecture.NotesStatus),
					string(lecture.FramesStatus),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Date", "Title", "Length", "Audio", "Transcript", "Notes", "Frames"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft}))
			return nil
		},
	}
}
