package main

import (
	"errors"
	"fmt"
	"os"

	z "github.com/Oudwins/zog"
	"github.com/spf13/cobra"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/cliutil"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/desktop"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/repo"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
)

var (
	createReq     schemas.TaskCreateRequest
	createPath    string
	getOpen       bool
	executeReq    schemas.TaskExecuteRequest
	executeLogs   bool
	cancelReq     schemas.TaskCancelRequest
	approveReq    schemas.TaskApproveRequest
	errNoPRToOpen = errors.New("task has no pull request yet")
)

func init() {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Create and drive tasks",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task for the repository in --path",
		Args:  cobra.NoArgs,
		RunE:  runTaskCreate,
	}
	createCmd.Flags().StringVar(&createReq.Title, "title", "", "task title")
	createCmd.Flags().StringVar(&createReq.Description, "description", "", "what the agent should do")
	createCmd.Flags().StringVar(&createReq.RepoURL, "repo-url", "", "repository url (default: origin of --path)")
	createCmd.Flags().StringVar(&createReq.RepoID, "repo-id", "", "repository id (default: owner/name of origin)")
	createCmd.Flags().StringVar(&createReq.BaseBranch, "base", "", "base branch (default: origin HEAD or main)")
	createCmd.Flags().StringVar(&createReq.Priority, "priority", "", "low, normal or high")
	createCmd.Flags().StringVar(&createReq.ModelProvider, "provider", "", "openai or anthropic")
	createCmd.Flags().StringVar(&createReq.Model, "model", "", "model name")
	createCmd.Flags().StringVar(&createPath, "path", ".", "checkout used to detect repository defaults")
	_ = createCmd.MarkFlagRequired("title")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List your tasks",
		Args:  cobra.NoArgs,
		RunE:  runTaskList,
	}

	getCmd := &cobra.Command{
		Use:   "get TASK",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskGet,
	}
	getCmd.Flags().BoolVar(&getOpen, "open", false, "open the pull request in a browser")

	executeCmd := &cobra.Command{
		Use:   "execute TASK",
		Short: "Provision a workspace and start the agent",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskExecute,
	}
	executeCmd.Flags().BoolVar(&executeReq.KeepWorkspaceAlive, "keep-alive", false, "keep the workspace after the run")
	executeCmd.Flags().BoolVarP(&executeLogs, "follow", "f", false, "stream logs after starting")

	cancelCmd := &cobra.Command{
		Use:   "cancel TASK",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskCancel,
	}
	cancelCmd.Flags().BoolVar(&cancelReq.TerminateWorkspace, "terminate-workspace", false, "also terminate the assigned workspace")

	approveCmd := &cobra.Command{
		Use:   "approve TASK",
		Short: "Merge the pull request of a task in review",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskApprove,
	}
	approveCmd.Flags().StringVar(&approveReq.MergeMethod, "method", "squash", "merge, squash or rebase")

	syncCmd := &cobra.Command{
		Use:   "sync TASK",
		Short: "Re-read the workspace status from the provider",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskSync,
	}

	taskCmd.AddCommand(createCmd, listCmd, getCmd, executeCmd, cancelCmd, approveCmd, syncCmd)
	rootCmd.AddCommand(taskCmd)
}

// fillRepoDefaults completes the request from the local checkout. Detection
// failures only matter when the user gave no repository at all.
func fillRepoDefaults(req *schemas.TaskCreateRequest, path string) error {
	if req.RepoURL != "" && req.RepoID != "" {
		return nil
	}
	info, err := repo.Detect(path)
	if err != nil {
		if req.RepoURL == "" {
			return fmt.Errorf("could not detect repository from %s: %w (pass --repo-url)", path, err)
		}
		req.RepoID = req.RepoURL
		return nil
	}
	if req.RepoURL == "" {
		req.RepoURL = info.RemoteURL
	}
	if req.RepoID == "" {
		req.RepoID = info.RepoID
	}
	if req.BaseBranch == "" {
		req.BaseBranch = info.DefaultBranch
	}
	return nil
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	if err := fillRepoDefaults(&createReq, createPath); err != nil {
		return err
	}
	if issues := schemas.TaskCreateSchema.Validate(&createReq); len(issues) > 0 {
		return fmt.Errorf("invalid task:\n%s", z.Issues.Prettify(issues))
	}
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	task, err := client.CreateTask(cmd.Context(), createReq)
	if err != nil {
		return err
	}
	cliutil.PrintTask(cmd.OutOrStdout(), task)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	list, err := client.ListTasks(cmd.Context())
	if err != nil {
		return err
	}
	cliutil.PrintTaskList(cmd.OutOrStdout(), list.Tasks)
	return nil
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	task, err := client.GetTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	cliutil.PrintTask(cmd.OutOrStdout(), task)
	if getOpen {
		if task.MergeRequestURL == "" {
			return errNoPRToOpen
		}
		return desktop.OpenURL(task.MergeRequestURL)
	}
	return nil
}

func runTaskExecute(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	result, err := client.ExecuteTask(cmd.Context(), args[0], executeReq)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "task %s is %s on workspace %s\n", result.TaskID, result.Status, result.WorkspaceID)
	if !executeLogs {
		return nil
	}
	return followLogs(cmd, client, result.TaskID)
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	result, err := client.CancelTask(cmd.Context(), args[0], cancelReq)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "task %s is %s\n", result.TaskID, result.Status)
	return nil
}

func runTaskSync(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	result, err := client.SyncTaskStatus(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	cliutil.PrintSync(cmd.OutOrStdout(), result)
	return nil
}

func runTaskApprove(cmd *cobra.Command, args []string) error {
	if issues := schemas.TaskApproveSchema.Validate(&approveReq); len(issues) > 0 {
		return fmt.Errorf("invalid merge method:\n%s", z.Issues.Prettify(issues))
	}
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	result, err := client.ApproveTask(cmd.Context(), args[0], approveReq)
	if err != nil {
		return err
	}
	if !result.Merged {
		fmt.Fprintf(os.Stderr, "merge not performed: %s\n", result.Message)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "merged %s (%s)\n", result.TaskID, result.SHA)
	return nil
}
