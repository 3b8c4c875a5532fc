package cliutil

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/term"
)

func linkFor(w io.Writer, label, url string) string {
	if f, ok := w.(*os.File); ok {
		return term.Link(f, label, url)
	}
	if label == "" {
		return url
	}
	return label
}

func PrintTask(w io.Writer, task *schemas.TaskResponse) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "task:\t%s\n", task.ID)
	fmt.Fprintf(tw, "title:\t%s\n", task.Title)
	fmt.Fprintf(tw, "status:\t%s\n", task.Status)
	fmt.Fprintf(tw, "repo:\t%s (%s)\n", task.RepoURL, task.BaseBranch)
	fmt.Fprintf(tw, "model:\t%s/%s\n", task.ModelProvider, task.Model)
	if task.AssignedWorkspaceID != "" {
		fmt.Fprintf(tw, "workspace:\t%s\n", task.AssignedWorkspaceID)
	}
	if task.BranchName != "" {
		fmt.Fprintf(tw, "branch:\t%s\n", task.BranchName)
	}
	if task.MergeRequestURL != "" {
		fmt.Fprintf(tw, "pull request:\t%s\n", linkFor(w, task.MergeRequestURL, task.MergeRequestURL))
	}
	fmt.Fprintf(tw, "updated:\t%s\n", time.UnixMilli(task.UpdatedAt).Format(time.RFC3339))
	_ = tw.Flush()
}

func PrintTaskList(w io.Writer, tasks []schemas.TaskResponse) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tTITLE")
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", task.ID, task.Status, task.Priority, task.Title)
	}
	_ = tw.Flush()
}

func PrintLogEvent(w io.Writer, event schemas.LogEvent) {
	at := time.UnixMilli(event.Timestamp).Format("15:04:05")
	message := event.Message
	if message == "" {
		if step, ok := event.Fields["step"].(string); ok {
			message = step
		}
	}
	fmt.Fprintf(w, "%s %-9s %s\n", at, strings.ToUpper(event.Type), message)
}

func PrintSweep(w io.Writer, sweep *schemas.SweepResponse) {
	fmt.Fprintf(w, "processed %d, terminated %d, errors %d\n", sweep.Processed, sweep.Terminated, sweep.Errors)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, result := range sweep.Results {
		outcome := "ok"
		if !result.Success {
			outcome = "failed: " + result.Error
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", result.WorkspaceID, result.Reason, outcome)
	}
	for _, detail := range sweep.Reconciliation.Details {
		fmt.Fprintf(tw, "  %s\treconcile\t%s\n", detail.WorkspaceID, detail.Action)
	}
	_ = tw.Flush()
}

func PrintSync(w io.Writer, sync *schemas.TaskSyncResponse) {
	fmt.Fprintf(w, "task %s is %s\n", sync.TaskID, sync.Status)
	for _, update := range sync.Updates {
		fmt.Fprintf(w, "  %s\n", update)
	}
	for _, msg := range sync.Errors {
		fmt.Fprintf(w, "  error: %s\n", msg)
	}
}
