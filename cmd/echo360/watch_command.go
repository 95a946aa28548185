package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hananf11/echo360/internal/events"
)

// newWatchCommand streams daemon events to the terminal until interrupted.
func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow live pipeline events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.apiBase()
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, base+"/api/events", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return wrapDialError(err, base)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("daemon returned %s", resp.Status)
			}

			out := cmd.OutOrStdout()
			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				var event events.Event
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
					continue
				}
				fmt.Fprintln(out, formatEvent(event))
			}
			return scanner.Err()
		},
	}
}

func formatEvent(event events.Event) string {
	var b strings.Builder
	b.WriteString(event.Time.Local().Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(string(event.Type))
	if event.LectureID != 0 {
		fmt.Fprintf(&b, " lecture=%d", event.LectureID)
	}
	if event.CourseID != 0 {
		fmt.Fprintf(&b, " course=%d", event.CourseID)
	}
	if event.Axis != "" {
		fmt.Fprintf(&b, " %s=%s", event.Axis, event.Status)
	}
	if event.Message != "" {
		fmt.Fprintf(&b, " %q", event.Message)
	}
	return b.String()
}
