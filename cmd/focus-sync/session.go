package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/focusflow/focusflow-go/internal/client/store"
	"github.com/focusflow/focusflow-go/internal/model"
)

const (
	minSessionMinutes = 5
	maxSessionMinutes = 240
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Record focus sessions locally",
}

var sessionLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Record a finished focus session for upload",
	Long: `Record a focus session that happened on this device. The session ends
--ago before now and is uploaded on the next sync.

  focus-sync session log --duration 25 --task <local-id>
  focus-sync session log --duration 50 --status failed --elapsed 12 --reason interrupted`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		minutes, _ := flags.GetInt("duration")
		status, _ := flags.GetString("status")
		elapsed, _ := flags.GetInt("elapsed")
		reason, _ := flags.GetString("reason")
		taskRef, _ := flags.GetString("task")
		ago, _ := flags.GetDuration("ago")

		if minutes < minSessionMinutes || minutes > maxSessionMinutes {
			return fmt.Errorf("--duration must be between %d and %d minutes", minSessionMinutes, maxSessionMinutes)
		}
		s := model.SessionStatus(strings.ToUpper(status))
		if !s.Terminal() {
			return fmt.Errorf("--status must be completed or failed")
		}
		if utf8.RuneCountInString(reason) > model.MaxReasonLength {
			return fmt.Errorf("--reason must be at most %d characters", model.MaxReasonLength)
		}
		if !flags.Changed("elapsed") {
			elapsed = minutes
			if s == model.SessionFailed {
				elapsed = 0
			}
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var taskID string
		if taskRef != "" {
			t, err := st.GetTask(cmd.Context(), taskRef)
			if err != nil {
				return fmt.Errorf("task %s: %w", taskRef, err)
			}
			taskID = t.Ref()
		}

		end := time.Now().Add(-ago)
		fs, err := st.CreateSession(cmd.Context(), store.Session{
			TaskID:      taskID,
			Duration:    minutes * 60,
			StartTime:   end.Add(-time.Duration(minutes) * time.Minute),
			Status:      s,
			TimeElapsed: elapsed * 60,
			Reason:      reason,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %s session %s (%d%%)\n", strings.ToLower(string(fs.Status)), fs.LocalID, fs.Progress)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		sessions, err := st.ListSessions(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LOCAL ID\tSTARTED\tMINUTES\tSTATUS\tPROGRESS\tSYNC")
		for _, fs := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d%%\t%s\n",
				fs.LocalID, fs.StartTime.Local().Format(time.DateTime), fs.Duration/60,
				fs.Status, fs.Progress, syncLabel(fs.Synced))
		}
		return w.Flush()
	},
}

func init() {
	sessionLogCmd.Flags().Int("duration", 25, "planned length in minutes")
	sessionLogCmd.Flags().String("status", "completed", "completed or failed")
	sessionLogCmd.Flags().Int("elapsed", 0, "minutes actually focused (default: full duration when completed)")
	sessionLogCmd.Flags().String("reason", "", "failure reason")
	sessionLogCmd.Flags().String("task", "", "local id of the task worked on")
	sessionLogCmd.Flags().Duration("ago", 0, "how long ago the session ended")

	sessionCmd.AddCommand(sessionLogCmd, sessionListCmd)
	rootCmd.AddCommand(sessionCmd)
}
