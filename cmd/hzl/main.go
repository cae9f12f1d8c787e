package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tmchow/hzl-sub002/internal/app"
	"github.com/tmchow/hzl-sub002/internal/config"
	"github.com/tmchow/hzl-sub002/internal/db"
	"github.com/tmchow/hzl-sub002/internal/domain"
	"github.com/tmchow/hzl-sub002/internal/repo"
	"github.com/tmchow/hzl-sub002/internal/server"
	"github.com/tmchow/hzl-sub002/internal/service"
)

var rootCmd = &cobra.Command{
	Use:   "hzl",
	Short: "hzl task ledger CLI",
	Long: `hzl is a local-first task ledger. Every change is an immutable event in
an append-only log under .hzl/; the task list you see is a cache derived
from that log and can always be rebuilt from it.`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("HZL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("author", "", "author identity for recorded events")
	rootCmd.PersistentFlags().String("agent-id", "", "agent identity for recorded events")
	rootCmd.PersistentFlags().String("session-id", "", "session id for recorded events")
	for _, name := range []string{"workspace", "json", "author", "agent-id", "session-id"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(depCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(checkpointCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(rebuildCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(serveCmd())
}

// withApp opens the workspace, runs fn, and closes it.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// prov builds event provenance from flags, falling back to the workspace
// config identity.
func prov(a *app.App) domain.Provenance {
	p := domain.Provenance{
		Author:    viper.GetString("author"),
		AgentID:   viper.GetString("agent-id"),
		SessionID: viper.GetString("session-id"),
	}
	if p.Author == "" {
		p.Author = a.Config.Identity.Author
	}
	if p.AgentID == "" {
		p.AgentID = a.Config.Identity.AgentID
	}
	return p
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"ID", t.ID})
	tw.AppendRow(table.Row{"Title", t.Title})
	tw.AppendRow(table.Row{"Project", t.Project})
	tw.AppendRow(table.Row{"Status", t.Status})
	tw.AppendRow(table.Row{"Priority", t.Priority})
	if t.Description != "" {
		tw.AppendRow(table.Row{"Description", t.Description})
	}
	if t.Claimed() {
		tw.AppendRow(table.Row{"Claimed by", holder(t)})
	}
	if t.LeaseUntil != nil {
		tw.AppendRow(table.Row{"Lease until", *t.LeaseUntil})
	}
	if t.Progress != nil {
		tw.AppendRow(table.Row{"Progress", fmt.Sprintf("%d%%", *t.Progress)})
	}
	if len(t.DependsOn) > 0 {
		tw.AppendRow(table.Row{"Depends on", strings.Join(shortIDs(t.DependsOn), ", ")})
	}
	if len(t.Tags) > 0 {
		tw.AppendRow(table.Row{"Tags", strings.Join(t.Tags, ", ")})
	}
	tw.AppendRow(table.Row{"Updated", t.UpdatedAt})
	tw.Render()
	return nil
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Project", "Status", "Pri", "Holder", "Tags"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{shortID(t.ID), t.Title, t.Project, t.Status, t.Priority, holder(t), strings.Join(t.Tags, ",")})
	}
	tw.Render()
	return nil
}

func holder(t domain.Task) string {
	switch {
	case t.ClaimedByAuthor != nil:
		return *t.ClaimedByAuthor
	case t.ClaimedByAgentID != nil:
		return *t.ClaimedByAgentID
	default:
		return ""
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = shortID(id)
	}
	return out
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("initialized workspace %s (instance %s)\n", workspace, a.InstanceID)
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskReadyCmd())
	task.AddCommand(taskClaimCmd())
	task.AddCommand(taskStealCmd())
	task.AddCommand(taskReleaseCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskBlockCmd())
	task.AddCommand(taskUnblockCmd())
	task.AddCommand(taskArchiveCmd())
	task.AddCommand(taskReopenCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskNextCmd())
	task.AddCommand(taskSearchCmd())
	task.AddCommand(taskHistoryCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var project, desc string
	var priority int
	var deps, tags []string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task in backlog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if project == "" {
					project = a.Config.Defaults.Project
				}
				resolved, err := resolveAll(ctx, a, deps)
				if err != nil {
					return err
				}
				t, err := a.Service.CreateTask(ctx, service.CreateTaskInput{
					Title:       args[0],
					Project:     project,
					Priority:    priority,
					Description: desc,
					DependsOn:   resolved,
					Tags:        tags,
					Prov:        prov(a),
				})
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project (defaults to config)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority, higher first")
	cmd.Flags().StringVarP(&desc, "description", "d", "", "description")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "task ids this task depends on")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags")
	return cmd
}

func resolveAll(ctx context.Context, a *app.App, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		full, err := a.Repo.ResolveTaskID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, full)
	}
	return out, nil
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Repo.ResolveTaskID(ctx, args[0])
				if err != nil {
					return err
				}
				t, err := a.Repo.GetTask(ctx, id)
				if err != nil {
					return err
				}
				if err := printTask(t); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return nil
				}
				comments, err := a.Repo.Comments(ctx, id)
				if err != nil {
					return err
				}
				for _, c := range comments {
					fmt.Printf("  [%s] %s: %s\n", c.TS, c.Author, c.Text)
				}
				return nil
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	var status, project, tag, holder string
	var limit int
	var available bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if available {
					tasks, err := a.Service.GetAvailableTasks(ctx, repo.AvailableFilter{Project: project, Limit: limit})
					if err != nil {
						return err
					}
					return printTasks(tasks)
				}
				tasks, err := a.Repo.ListTasks(ctx, repo.ListFilter{
					Status:  status,
					Project: project,
					Tag:     tag,
					Holder:  holder,
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status")
	cmd.Flags().StringVarP(&project, "project", "p", "", "filter by project")
	cmd.Flags().StringVar(&tag, "tag", "", "filter by tag")
	cmd.Flags().StringVar(&holder, "holder", "", "filter by claim holder")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	cmd.Flags().BoolVar(&available, "available", false, "only claimable tasks")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, desc string
	var priority, progress int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Repo.ResolveTaskID(ctx, args[0])
				if err != nil {
					return err
				}
				var in service.UpdateTaskInput
				in.Prov = prov(a)
				if cmd.Flags().Changed("title") {
					in.Title = &title
				}
				if cmd.Flags().Changed("description") {
					in.Description = &desc
				}
				if cmd.Flags().Changed("priority") {
					in.Priority = &priority
				}
				if cmd.Flags().Changed("progress") {
					in.Progress = &progress
				}
				t, err := a.Service.UpdateTask(ctx, id, in)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVarP(&desc, "description", "d", "", "new description")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress 0-100")
	return cmd
}

// statusCmd builds the simple transition subcommands that share a shape.
func statusCmd(use, short string, run func(ctx context.Context, a *app.App, id string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Repo.ResolveTaskID(ctx, args[0])
				if err != nil {
					return err
				}
				t, err := run(ctx, a, id)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskReadyCmd() *cobra.Command {
	return statusCmd("ready", "Move a backlog task to the ready queue",
		func(ctx context.Context, a *app.App, id string) (domain.Task, error) {
			return a.Service.Ready(ctx, id, prov(a))
		})
}

func taskClaimCmd() *cobra.Command {
	var leaseMinutes int
	cmd := statusCmd("claim", "Claim a task with a lease",
		func(ctx context.Context, a *app.App, id string) (domain.Task, error) {
			return a.Service.Claim(ctx, id, service.ClaimInput{LeaseMinutes: leaseMinutes, Prov: prov(a)})
		})
	cmd.Flags().IntVar(&leaseMinutes, "lease", 0, "lease minutes (defaults to config)")
	return cmd
}

func taskStealCmd() *cobra.Command {
	var force bool
	var leaseMinutes int
	cmd := statusCmd("steal", "Take over a claimed task",
		func(ctx context.Context, a *app.App, id string) (domain.Task, error) {
			mode := service.StealIfExpired
			if force {
				mode = service.StealForce
			}
			return a.Service.Steal(ctx, id, mode, service.ClaimInput{LeaseMinutes: leaseMinutes, Prov: prov(a)})
		})
	cmd.Flags().BoolVar(&force, "force", false, "steal even if the lease is live")
	cmd.Flags().IntVar(&leaseMinutes, "lease", 0, "lease minutes (defaults to config)")
	return cmd
}

func taskReleaseCmd() *cobra.Command {
	return statusCmd("release", "Release a claimed task back to the queue",
		func(ctx context.Context, a *app.App, id string) (domain.Task, error) {
			return a.Service.Release(ctx, id, prov(a))
		})
}

func taskCompleteCmd() *cobra.Command {
	var reason string
	cmd := statusCmd("complete", "Mark a task done",
		func(ctx context.Context, a *app.App, id string) (domain.Task, error) {
			return a.Service.Complete(ctx, id, reason, prov(a))
		})
	cmd.Flags().StringVar(&reason, "reason", "", "completion note")
	return cmd
}

func taskBlockCmd() *cobra.Command {
	var reason string
	cmd := statusCmd("block", "Mark an in-progress task blocked",
		func(ctx context.Context, a *app.App, id string) (domain.Task, error) {
			return a.Service.Block(ctx, id, reason, prov(a))
		})
	cmd.Flags().StringVar(&reason, "reason", "", "what is blocking")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func taskUnblockCmd() *cobra.Command {
	return statusCmd("unblock", "Unblock a blocked task",
		func(ctx context.Context, a *app.App, id string) (domain.Task, error) {
			return a.Service.Unblock(ctx, id, prov(a))
		})
}

func taskArchiveCmd() *cobra.Command {
	return statusCmd("archive", "Archive a done task",
		func(ctx context.Context, a *app.App, id string) (domain.Task, error) {
			return a.Service.Archive(ctx, id, prov(a))
		})
}

func taskReopenCmd() *cobra.Command {
	return statusCmd("reopen", "Reopen a finished task",
		func(ctx context.Context, a *app.App, id string) (domain.Task, error) {
			return a.Service.Reopen(ctx, id, prov(a))
		})
}

func taskMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <project>",
		Short: "Move a task to another project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Repo.ResolveTaskID(ctx, args[0])
				if err != nil {
					return err
				}
				t, err := a.Service.Move(ctx, id, args[1], prov(a))
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskNextCmd() *cobra.Command {
	var project string
	var tags []string
	var claim bool
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show (and optionally claim) the best available task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, ok, err := a.Service.Next(ctx, repo.AvailableFilter{Project: project, Tags: tags})
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("no available tasks")
					return nil
				}
				if claim {
					t, err = a.Service.Claim(ctx, t.ID, service.ClaimInput{Prov: prov(a)})
					if err != nil {
						return err
					}
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "filter by project")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "filter by tags")
	cmd.Flags().BoolVar(&claim, "claim", false, "claim the task immediately")
	return cmd
}

func taskSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search tasks by title, project, tags or last comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Repo.SearchTasks(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func taskHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show a task's full event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Repo.ResolveTaskID(ctx, args[0])
				if err != nil {
					return err
				}
				events, err := a.Store.ReadByTask(ctx, id)
				if err != nil {
					return err
				}
				return printEvents(events)
			})
		},
	}
}

func printEvents(events []domain.Envelope) error {
	if viper.GetBool("json") {
		return printJSON(events)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Seq", "Type", "Task", "Author", "When"})
	for _, e := range events {
		tw.AppendRow(table.Row{e.Sequence, e.Type, shortID(e.TaskID), e.Author, e.TS})
	}
	tw.Render()
	return nil
}

func depCmd() *cobra.Command {
	dep := &cobra.Command{Use: "dep", Short: "Manage task dependencies"}
	dep.AddCommand(&cobra.Command{
		Use:   "add <id> <depends-on>",
		Short: "Add a dependency edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ids, err := resolveAll(ctx, a, args)
				if err != nil {
					return err
				}
				return a.Service.AddDependency(ctx, ids[0], ids[1], prov(a))
			})
		},
	})
	dep.AddCommand(&cobra.Command{
		Use:   "rm <id> <depends-on>",
		Short: "Remove a dependency edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ids, err := resolveAll(ctx, a, args)
				if err != nil {
					return err
				}
				return a.Service.RemoveDependency(ctx, ids[0], ids[1], prov(a))
			})
		},
	})
	return dep
}

func tagCmd() *cobra.Command {
	tag := &cobra.Command{Use: "tag", Short: "Manage task tags"}
	tag.AddCommand(&cobra.Command{
		Use:   "add <id> <tag>",
		Short: "Tag a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Repo.ResolveTaskID(ctx, args[0])
				if err != nil {
					return err
				}
				return a.Service.AddTag(ctx, id, args[1], prov(a))
			})
		},
	})
	tag.AddCommand(&cobra.Command{
		Use:   "rm <id> <tag>",
		Short: "Untag a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Repo.ResolveTaskID(ctx, args[0])
				if err != nil {
					return err
				}
				return a.Service.RemoveTag(ctx, id, args[1], prov(a))
			})
		},
	})
	return tag
}

func commentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <id> <text>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Repo.ResolveTaskID(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = a.Service.AddComment(ctx, id, args[1], prov(a))
				return err
			})
		},
	}
}

func checkpointCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "checkpoint <id> <name>",
		Short: "Record a named progress marker on a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Repo.ResolveTaskID(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = a.Service.RecordCheckpoint(ctx, id, args[1], note, prov(a))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "free-form note")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				projects, err := a.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Tasks", "Protected", "Description"})
				for _, p := range projects {
					tw.AppendRow(table.Row{p.Name, p.TaskCount, p.IsProtected, p.Description})
				}
				tw.Render()
				return nil
			})
		},
	})
	var desc string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Service.CreateProject(ctx, args[0], desc, prov(a))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("created project %s\n", p.Name)
				return nil
			})
		},
	}
	create.Flags().StringVarP(&desc, "description", "d", "", "description")
	prj.AddCommand(create)
	prj.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an empty project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Service.DeleteProject(ctx, args[0], prov(a))
			})
		},
	})
	return prj
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var since int64
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if since == 0 && limit > 0 {
					head, err := a.Store.LatestSequence(ctx)
					if err != nil {
						return err
					}
					if head > int64(limit) {
						since = head - int64(limit)
					}
				}
				events, err := a.Store.ReadSince(ctx, a.DB, since, limit)
				if err != nil {
					return err
				}
				return printEvents(events)
			})
		},
	}
	tail.Flags().Int64Var(&since, "since", 0, "start after this sequence")
	tail.Flags().IntVar(&limit, "limit", 20, "max rows")
	log.AddCommand(tail)
	return log
}

func exportCmd() *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the event log as JSONL on stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Store.ExportJSONL(ctx, os.Stdout, since)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "exported %d events\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "start after this sequence")
	return cmd
}

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the cache from the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.Rebuild(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("replayed %d events\n", n)
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check dependency graph integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Service.Audit(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("tasks: %d, edges: %d\n", report.Tasks, report.Edges)
				for _, cycle := range report.Cycles {
					fmt.Printf("cycle: %s\n", strings.Join(shortIDs(cycle), " -> "))
				}
				for _, d := range report.DanglingDeps {
					fmt.Printf("dangling: %s\n", d)
				}
				if report.Clean() {
					fmt.Println("ok")
				}
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API and webhook dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				handler, err := server.New(server.Config{App: a})
				if err != nil {
					return err
				}
				stopHooks := server.StartHooks(a)
				defer stopHooks()
				srv := &http.Server{
					Addr:              addr,
					Handler:           handler,
					ReadHeaderTimeout: 5 * time.Second,
				}
				fmt.Printf("listening on %s\n", addr)
				return srv.ListenAndServe()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8720", "listen address")
	return cmd
}
