package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/focusflow/focusflow-go/internal/client/store"
	"github.com/focusflow/focusflow-go/internal/model"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage local tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task locally; it is uploaded on the next sync",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetInt("priority")

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		t, err := st.CreateTask(cmd.Context(), strings.Join(args, " "), priority)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created task %s (%s)\n", t.LocalID, t.ClientID)
		return nil
	},
}

var taskSetCmd = &cobra.Command{
	Use:   "set <local-id>",
	Short: "Edit a local task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if !flags.Changed("title") && !flags.Changed("status") && !flags.Changed("priority") {
			return fmt.Errorf("nothing to change: pass --title, --status or --priority")
		}
		title, _ := flags.GetString("title")
		status, _ := flags.GetString("status")
		priority, _ := flags.GetInt("priority")

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		t, err := st.UpdateTask(cmd.Context(), args[0], func(t *store.Task) {
			if flags.Changed("title") {
				t.Title = title
			}
			if flags.Changed("status") {
				t.Status = model.TaskStatus(strings.ToUpper(status))
			}
			if flags.Changed("priority") {
				t.Priority = priority
			}
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated task %s: %s [%s] p%d\n", t.LocalID, t.Title, t.Status, t.Priority)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		tasks, err := st.ListTasks(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LOCAL ID\tTITLE\tSTATUS\tPRIORITY\tMINUTES\tUPDATED\tSYNC")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				t.LocalID, t.Title, t.Status, t.Priority, t.ActualMinutes,
				t.UpdatedAt.Local().Format(time.DateTime), syncLabel(t.Synced))
		}
		return w.Flush()
	},
}

func syncLabel(synced bool) string {
	if synced {
		return "synced"
	}
	return "pending"
}

func init() {
	taskAddCmd.Flags().Int("priority", model.DefaultTaskPriority, "priority from 0 (highest) to 4")
	taskSetCmd.Flags().String("title", "", "new title")
	taskSetCmd.Flags().String("status", "", "TODO, IN_PROGRESS, COMPLETED or ARCHIVED")
	taskSetCmd.Flags().Int("priority", model.DefaultTaskPriority, "priority from 0 (highest) to 4")

	taskCmd.AddCommand(taskAddCmd, taskSetCmd, taskListCmd)
	rootCmd.AddCommand(taskCmd)
}
