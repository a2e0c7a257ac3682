package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"regline/internal/config"
	"regline/internal/db"
	"regline/internal/domain"
	"regline/internal/export"
	"regline/internal/importer"
	"regline/internal/migrate"
	"regline/internal/registry"
	"regline/internal/repo"
	"regline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Regline CLI",
	Long: `Regline is a local project registry: one SQLite file per workspace holding
work items with status, priority, dependencies, deliverables and a full audit
trail. Every successful write regenerates the markdown and JSON exports under
the workspace exports directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy to process exit codes: 1 for rejected
// input and bad transitions, 2 for integrity violations, 3 for store I/O.
func exitCode(err error) int {
	var ie registry.IntegrityError
	if errors.As(err, &ie) {
		return 2
	}
	var se registry.StoreError
	if errors.As(err, &se) {
		return 3
	}
	return 1
}

func initConfig() {
	viper.SetEnvPrefix("REGLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(blockCmd())
	rootCmd.AddCommand(unblockCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(removeCmd())
	rootCmd.AddCommand(backlogCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(dependCmd())
	rootCmd.AddCommand(deliverableCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(serveCmd())
}

func addCmd() *cobra.Command {
	var p domain.Project
	var tags, refs []string
	var effort float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				p.Tags = tags
				p.ExternalRefs = refs
				if cmd.Flags().Changed("effort-hours") {
					p.EffortHours = &effort
				}
				created, err := reg.Add(ctx, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "project id")
	cmd.Flags().StringVar(&p.Name, "name", "", "project name")
	cmd.Flags().StringVar(&p.Priority, "priority", "", "priority (critical, high, medium, low)")
	cmd.Flags().StringVar(&p.Category, "category", "", "category")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().Float64Var(&effort, "effort-hours", 0, "estimated effort in hours")
	cmd.Flags().StringVar(&p.Impact, "impact", "", "impact (high, medium, low)")
	cmd.Flags().StringVar(&p.PlanPath, "plan", "", "plan document path")
	cmd.Flags().StringVar(&p.Description, "description", "", "description")
	cmd.Flags().StringVar(&p.Notes, "notes", "", "notes")
	cmd.Flags().StringSliceVar(&refs, "ref", nil, "external reference (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func listCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				projects, err := reg.Repo.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				renderProjectTable(projects)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	return cmd
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project with deliverables and dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				p, err := reg.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				deliverables, err := reg.Repo.ListDeliverables(ctx, p.ID)
				if err != nil {
					return err
				}
				deps, err := reg.Repo.ListDependencies(ctx, p.ID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project":      p,
					"deliverables": deliverables,
					"dependencies": deps,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("%s — %s [%s/%s]\n", p.ID, p.Name, p.Status, p.Priority)
				if p.Category != "" {
					fmt.Printf("  category: %s\n", p.Category)
				}
				if len(p.Tags) > 0 {
					fmt.Printf("  tags: %s\n", strings.Join(p.Tags, ", "))
				}
				if p.EffortHours != nil {
					fmt.Printf("  effort: %gh\n", *p.EffortHours)
				}
				if p.ActualHours != nil {
					fmt.Printf("  actual: %gh\n", *p.ActualHours)
				}
				if p.Impact != "" {
					fmt.Printf("  impact: %s\n", p.Impact)
				}
				if p.PlanPath != "" {
					fmt.Printf("  plan: %s\n", p.PlanPath)
				}
				if p.Description != "" {
					fmt.Printf("  description: %s\n", p.Description)
				}
				if p.Notes != "" {
					fmt.Printf("  notes: %s\n", p.Notes)
				}
				for _, d := range deps {
					fmt.Printf("  depends on %s (%s)\n", d.DependsOnID, d.Type)
				}
				for _, d := range deliverables {
					fmt.Printf("  deliverable %s [%s, %s]\n", d.Name, d.Type, d.Status)
				}
				return nil
			})
		},
	}
	return cmd
}

func startCmd() *cobra.Command {
	return transitionCmd("start <id>", "Start a planned project", registry.ActionStart)
}

func blockCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "block <id>",
		Short: "Block a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				p, err := reg.Transition(ctx, args[0], registry.ActionBlock, registry.TransitionOptions{Reason: reason})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the project is blocked")
	return cmd
}

func unblockCmd() *cobra.Command {
	return transitionCmd("unblock <id>", "Unblock a project, restoring its prior status", registry.ActionUnblock)
}

func archiveCmd() *cobra.Command {
	return transitionCmd("archive <id>", "Archive a project (terminal)", registry.ActionArchive)
}

func transitionCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				p, err := reg.Transition(ctx, args[0], action, registry.TransitionOptions{})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func completeCmd() *cobra.Command {
	var actual float64
	var notes string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				opts := registry.TransitionOptions{Notes: notes}
				if cmd.Flags().Changed("actual-hours") {
					opts.ActualHours = &actual
				}
				p, err := reg.Transition(ctx, args[0], registry.ActionComplete, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Float64Var(&actual, "actual-hours", 0, "actual hours spent")
	cmd.Flags().StringVar(&notes, "notes", "", "completion notes")
	return cmd
}

func updateCmd() *cobra.Command {
	var name, priority, category, impact, plan, description, notes, reason string
	var effort float64
	var addTags, removeTags, addRefs []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update project fields (status changes go through start/complete/block/archive)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				patch := registry.Patch{
					AddTags:    addTags,
					RemoveTags: removeTags,
					AddRefs:    addRefs,
					Reason:     reason,
				}
				if cmd.Flags().Changed("name") {
					patch.Name = &name
				}
				if cmd.Flags().Changed("priority") {
					patch.Priority = &priority
				}
				if cmd.Flags().Changed("category") {
					patch.Category = &category
				}
				if cmd.Flags().Changed("effort-hours") {
					patch.EffortHours = &effort
				}
				if cmd.Flags().Changed("impact") {
					patch.Impact = &impact
				}
				if cmd.Flags().Changed("plan") {
					patch.PlanPath = &plan
				}
				if cmd.Flags().Changed("description") {
					patch.Description = &description
				}
				if cmd.Flags().Changed("notes") {
					patch.Notes = &notes
				}
				p, err := reg.Update(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().Float64Var(&effort, "effort-hours", 0, "estimated effort in hours")
	cmd.Flags().StringVar(&impact, "impact", "", "impact")
	cmd.Flags().StringVar(&plan, "plan", "", "plan document path")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringSliceVar(&addTags, "add-tag", nil, "tag to add (repeatable)")
	cmd.Flags().StringSliceVar(&removeTags, "remove-tag", nil, "tag to remove (repeatable)")
	cmd.Flags().StringSliceVar(&addRefs, "add-ref", nil, "external reference to add (repeatable)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")
	return cmd
}

func removeCmd() *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a project and everything referencing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				if err := reg.Remove(ctx, args[0], cascade); err != nil {
					return err
				}
				fmt.Printf("removed %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "remove even when other projects depend on it")
	return cmd
}

func backlogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backlog",
		Short: "Unfinished projects in working order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				projects, err := reg.Backlog(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				renderProjectTable(projects)
				return nil
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Aggregate counts and effort variance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				stats, err := reg.ComputeStats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				fmt.Printf("Projects: %d\n", stats.Total)
				fmt.Println("By status:")
				for _, s := range []string{domain.StatusPlanned, domain.StatusActive, domain.StatusBlocked, domain.StatusCompleted, domain.StatusArchived} {
					if n := stats.ByStatus[s]; n > 0 {
						fmt.Printf("  %s: %d\n", s, n)
					}
				}
				fmt.Println("By priority:")
				for _, p := range []string{domain.PriorityCritical, domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow} {
					if n := stats.ByPriority[p]; n > 0 {
						fmt.Printf("  %s: %d\n", p, n)
					}
				}
				fmt.Printf("Effort planned: %gh\n", stats.EffortPlanned)
				fmt.Printf("Effort completed: %gh (actual %gh, variance %+gh)\n",
					stats.EffortCompleted, stats.ActualCompleted, stats.Variance)
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	var format, status, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render the registry to markdown or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				snap, err := export.Load(ctx, reg.Repo, status, reg.NowString())
				if err != nil {
					return err
				}
				var data []byte
				switch format {
				case export.FormatMarkdown:
					data = snap.MarkdownBytes()
				case export.FormatJSON:
					data, err = snap.JSONBytes()
					if err != nil {
						return err
					}
				default:
					return fmt.Errorf("unknown format %q (markdown or json)", format)
				}
				if out == "" {
					_, err = os.Stdout.Write(data)
					return err
				}
				return export.WriteAtomic(out, data)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", export.FormatMarkdown, "markdown or json")
	cmd.Flags().StringVar(&status, "status", "", "only include projects with this status")
	cmd.Flags().StringVar(&out, "out", "", "write to file instead of stdout")
	return cmd
}

func dependCmd() *cobra.Command {
	dep := &cobra.Command{Use: "depend", Short: "Manage dependency edges"}
	dep.AddCommand(dependAddCmd())
	dep.AddCommand(dependRemoveCmd())
	dep.AddCommand(dependListCmd())
	dep.AddCommand(dependGraphCmd())
	return dep
}

func dependAddCmd() *cobra.Command {
	var depType string
	cmd := &cobra.Command{
		Use:   "add <id> <depends-on>",
		Short: "Record that one project depends on another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				d, err := reg.AddDependency(ctx, args[0], args[1], depType)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&depType, "type", domain.DepBlocks, "dependency type (blocks, optional, enhances)")
	return cmd
}

func dependRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id> <depends-on>",
		Short: "Delete a dependency edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				if err := reg.RemoveDependency(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("removed edge %s -> %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func dependListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <id>",
		Short: "List what a project depends on and what depends on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				deps, err := reg.Repo.ListDependencies(ctx, args[0])
				if err != nil {
					return err
				}
				dependents, err := reg.Repo.ListDependents(ctx, args[0])
				if err != nil {
					return err
				}
				out := map[string]any{"depends_on": deps, "dependents": dependents}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				for _, d := range deps {
					fmt.Printf("%s depends on %s (%s)\n", d.ProjectID, d.DependsOnID, d.Type)
				}
				for _, d := range dependents {
					fmt.Printf("%s is required by %s (%s)\n", d.DependsOnID, d.ProjectID, d.Type)
				}
				return nil
			})
		},
	}
}

func dependGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Show every edge and a dependencies-first ordering",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				edges, err := reg.Repo.ListAllDependencies(ctx)
				if err != nil {
					return err
				}
				order, err := reg.TopoOrder(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"edges": edges, "order": order})
				}
				for _, e := range edges {
					fmt.Printf("%s -> %s (%s)\n", e.ProjectID, e.DependsOnID, e.Type)
				}
				fmt.Println("order:", strings.Join(order, ", "))
				return nil
			})
		},
	}
}

func deliverableCmd() *cobra.Command {
	del := &cobra.Command{Use: "deliverable", Short: "Manage deliverables"}
	del.AddCommand(deliverableAddCmd())
	del.AddCommand(deliverableDoneCmd())
	del.AddCommand(deliverableListCmd())
	return del
}

func deliverableAddCmd() *cobra.Command {
	var d domain.Deliverable
	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Attach a deliverable to a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				created, err := reg.AddDeliverable(ctx, args[0], d)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&d.Name, "name", "", "deliverable name")
	cmd.Flags().StringVar(&d.Type, "type", "", "type (tool, agent, documentation, infrastructure, database, workflow)")
	cmd.Flags().StringVar(&d.Status, "status", "", "initial status (defaults to planned)")
	cmd.Flags().StringVar(&d.FilePath, "file", "", "file path of the artifact")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func deliverableDoneCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "done <project-id> <name>",
		Short: "Mark a deliverable completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				status := domain.DeliverableCompleted
				patch := registry.DeliverablePatch{Status: &status}
				if cmd.Flags().Changed("file") {
					patch.FilePath = &file
				}
				d, err := reg.UpdateDeliverable(ctx, args[0], args[1], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file path of the finished artifact")
	return cmd
}

func deliverableListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's deliverables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				deliverables, err := reg.Repo.ListDeliverables(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(deliverables)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Type", "Status", "File"})
				for _, d := range deliverables {
					tw.AppendRow(table.Row{d.Name, d.Type, d.Status, d.FilePath})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Show a project's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				updates, err := reg.Repo.ListUpdates(ctx, args[0])
				if err != nil {
					return err
				}
				if n > 0 && len(updates) > n {
					updates = updates[len(updates)-n:]
				}
				if viper.GetBool("json") {
					return printJSON(updates)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Field", "Old", "New", "Reason"})
				for _, u := range updates {
					tw.AppendRow(table.Row{u.TS, u.Field, deref(u.OldValue), deref(u.NewValue), u.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 0, "only the last n entries")
	return cmd
}

func importCmd() *cobra.Command {
	imp := &cobra.Command{Use: "import", Short: "Ingest legacy markdown documents"}
	imp.AddCommand(importRunCmd("run", "Parse documents and create missing projects", false))
	imp.AddCommand(importRunCmd("dry-run", "Parse and report without writing", true))
	return imp
}

func importRunCmd(use, short string, dry bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <files...>",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				var docs []importer.Doc
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					docs = append(docs, importer.Doc{Path: filepath.ToSlash(path), Content: string(data)})
				}
				im := importer.New(reg)
				var rep importer.Report
				var err error
				if dry {
					rep, err = im.DryRun(ctx, docs)
				} else {
					rep, err = im.Run(ctx, docs)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				for _, e := range rep.Entries {
					if e.Reason != "" {
						fmt.Printf("%-12s %s (%s)\n", e.Outcome, e.Path, e.Reason)
					} else {
						fmt.Printf("%-12s %s -> %s\n", e.Outcome, e.Path, e.ID)
					}
				}
				fmt.Printf("total=%d migrated=%d skipped=%d errored=%d\n",
					rep.Total, rep.Migrated, rep.Skipped, rep.Errored)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only HTTP viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
				handler, err := server.New(server.Config{Registry: reg, BasePath: basePath})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Regline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withRegistry(ctx context.Context, fn func(context.Context, *registry.Registry) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, registry.New(conn, cfg, workspace))
}

func renderProjectTable(projects []domain.Project) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Status", "Priority", "Category", "Effort"})
	for _, p := range projects {
		effort := ""
		if p.EffortHours != nil {
			effort = fmt.Sprintf("%gh", *p.EffortHours)
		}
		tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.Priority, p.Category, effort})
	}
	tw.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
