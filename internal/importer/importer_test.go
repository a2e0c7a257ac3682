package importer_test

import (
	"context"
	"testing"
	"time"

	"regline/internal/config"
	"regline/internal/db"
	"regline/internal/domain"
	"regline/internal/importer"
	"regline/internal/migrate"
	"regline/internal/registry"
	"regline/internal/repo"
)

func newTestImporter(t *testing.T) (*importer.Importer, context.Context) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := registry.New(conn, config.Default(), dir)
	reg.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	im := importer.New(reg)
	im.Sleep = func(time.Duration) {}
	return im, context.Background()
}

var legacyBatch = []importer.Doc{
	{Path: "docs/patching.md", Content: "# Patch Rollout\n\nStatus: in progress\nPriority: high\nEffort: 12h\n"},
	{Path: "docs/backup.md", Content: "# Backup Review\n\n**Status**: done\n**Priority**: medium\n"},
	{Path: "docs/onboarding.md", Content: "# Plan: Onboarding Portal\n\nStatus: todo\n\n## Deliverables\n\n- [ ] intake form (workflow)\n- [x] runbook (documentation)\n"},
	{Path: "docs/cleanup.md", Content: "# Cleanup\n\nPriority: low\nCategory: maintenance\n"},
	{Path: "docs/scratch.md", Content: "just some loose notes with no heading\n"},
}

func TestRunMigratesBatchAndIsIdempotent(t *testing.T) {
	im, ctx := newTestImporter(t)

	rep, err := im.Run(ctx, legacyBatch)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Migrated != 4 || rep.Skipped != 0 || rep.Errored != 1 {
		t.Fatalf("first run: migrated=%d skipped=%d errored=%d", rep.Migrated, rep.Skipped, rep.Errored)
	}
	if rep.Migrated+rep.Skipped+rep.Errored != rep.Total {
		t.Fatalf("coverage broken: %+v", rep)
	}

	again, err := im.Run(ctx, legacyBatch)
	if err != nil {
		t.Fatal(err)
	}
	if again.Migrated != 0 || again.Skipped != 4 || again.Errored != 1 {
		t.Fatalf("second run: migrated=%d skipped=%d errored=%d", again.Migrated, again.Skipped, again.Errored)
	}

	p, err := im.Registry.Repo.GetProject(ctx, "patch-rollout")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusActive || p.Priority != domain.PriorityHigh {
		t.Fatalf("patch-rollout: status=%q priority=%q", p.Status, p.Priority)
	}
	if p.EffortHours == nil || *p.EffortHours != 12 {
		t.Fatalf("patch-rollout effort = %v, want 12", p.EffortHours)
	}
}

func TestPlanDocCarriesDeliverables(t *testing.T) {
	im, ctx := newTestImporter(t)
	if _, err := im.Run(ctx, legacyBatch); err != nil {
		t.Fatal(err)
	}
	p, err := im.Registry.Repo.GetProject(ctx, "onboarding-portal")
	if err != nil {
		t.Fatal(err)
	}
	if p.PlanPath != "docs/onboarding.md" {
		t.Fatalf("plan_path = %q", p.PlanPath)
	}
	deliverables, err := im.Registry.Repo.ListDeliverables(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deliverables) != 2 {
		t.Fatalf("deliverables = %d, want 2", len(deliverables))
	}
	byName := map[string]domain.Deliverable{}
	for _, d := range deliverables {
		byName[d.Name] = d
	}
	if d := byName["intake form"]; d.Type != domain.DeliverableWorkflow || d.Status != domain.DeliverablePlanned {
		t.Fatalf("intake form: %+v", d)
	}
	if d := byName["runbook"]; d.Type != domain.DeliverableDocumentation || d.Status != domain.DeliverableCompleted {
		t.Fatalf("runbook: %+v", d)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	im, ctx := newTestImporter(t)

	rep, err := im.DryRun(ctx, legacyBatch)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Migrated != 4 || rep.Errored != 1 {
		t.Fatalf("dry run: migrated=%d errored=%d", rep.Migrated, rep.Errored)
	}
	for _, e := range rep.Entries {
		if e.Outcome != importer.OutcomeWouldCreate && e.Outcome != importer.OutcomeParseError {
			t.Fatalf("unexpected dry-run outcome %q", e.Outcome)
		}
	}
	projects, err := im.Registry.Repo.ListProjects(ctx, repo.ProjectFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 0 {
		t.Fatalf("dry run created %d projects", len(projects))
	}
}

func TestDuplicateSlugInBatchIsError(t *testing.T) {
	im, ctx := newTestImporter(t)
	docs := []importer.Doc{
		{Path: "a.md", Content: "# Same Name\n\nStatus: todo\n"},
		{Path: "b.md", Content: "# Same Name\n\nStatus: done\n"},
	}
	rep, err := im.Run(ctx, docs)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Migrated != 1 || rep.Errored != 1 {
		t.Fatalf("migrated=%d errored=%d, want 1/1", rep.Migrated, rep.Errored)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Patch Rollout":        "patch-rollout",
		"  API v2 (rewrite)  ": "api-v2-rewrite",
		"Ünïcode":              "n-code",
	}
	for in, want := range cases {
		if got := importer.Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
