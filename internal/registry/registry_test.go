package registry_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"regline/internal/config"
	"regline/internal/db"
	"regline/internal/domain"
	"regline/internal/migrate"
	"regline/internal/registry"
	"regline/internal/repo"
)

type testEnv struct {
	Reg *registry.Registry
	Ctx context.Context
	Dir string
}

func newTestEnv(t *testing.T) testEnv {
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
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	reg.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	reg.ExportWarn = func(err error) { t.Errorf("export regeneration: %v", err) }
	return testEnv{Reg: reg, Ctx: context.Background(), Dir: dir}
}

func mustAdd(t *testing.T, env testEnv, id string) domain.Project {
	t.Helper()
	p, err := env.Reg.Add(env.Ctx, domain.Project{ID: id, Name: "Project " + id})
	if err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
	return p
}

func TestAddDefaultsAndAuditRow(t *testing.T) {
	env := newTestEnv(t)
	p := mustAdd(t, env, "alpha")
	if p.Status != domain.StatusPlanned {
		t.Fatalf("status = %q, want planned", p.Status)
	}
	if p.Priority != domain.PriorityMedium {
		t.Fatalf("priority = %q, want medium", p.Priority)
	}
	updates, err := env.Reg.Repo.ListUpdates(env.Ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	u := updates[0]
	if u.Field != "status" || u.OldValue != nil || u.NewValue == nil || *u.NewValue != "planned" {
		t.Fatalf("unexpected creation audit row: %+v", u)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	neg := -1.0
	cases := []domain.Project{
		{ID: "", Name: "x"},
		{ID: "x", Name: ""},
		{ID: "x", Name: "x", Priority: "urgent"},
		{ID: "x", Name: "x", EffortHours: &neg},
	}
	for _, c := range cases {
		_, err := env.Reg.Add(env.Ctx, c)
		var ve registry.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Add(%+v) err = %v, want ValidationError", c, err)
		}
	}
	mustAdd(t, env, "dup")
	_, err := env.Reg.Add(env.Ctx, domain.Project{ID: "dup", Name: "again"})
	var ve registry.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("duplicate id err = %v, want ValidationError", err)
	}
}

func TestStartCompleteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	effort := 10.0
	if _, err := env.Reg.Add(env.Ctx, domain.Project{ID: "y", Name: "Y", EffortHours: &effort}); err != nil {
		t.Fatal(err)
	}

	p, err := env.Reg.Transition(env.Ctx, "y", registry.ActionStart, registry.TransitionOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.Status != domain.StatusActive || p.StartedAt == nil {
		t.Fatalf("after start: status=%q started_at=%v", p.Status, p.StartedAt)
	}

	_, err = env.Reg.Transition(env.Ctx, "y", registry.ActionStart, registry.TransitionOptions{})
	var se registry.StateError
	if !errors.As(err, &se) {
		t.Fatalf("second start err = %v, want StateError", err)
	}

	actual := 8.0
	p, err = env.Reg.Transition(env.Ctx, "y", registry.ActionComplete, registry.TransitionOptions{ActualHours: &actual})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if p.Status != domain.StatusCompleted || p.CompletedAt == nil {
		t.Fatalf("after complete: status=%q completed_at=%v", p.Status, p.CompletedAt)
	}
	if p.ActualHours == nil || *p.ActualHours != 8 {
		t.Fatalf("actual_hours = %v, want 8", p.ActualHours)
	}

	stats, err := env.Reg.ComputeStats(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Variance != -2 {
		t.Fatalf("variance = %g, want -2", stats.Variance)
	}
}

func TestCompleteFromPlannedLeavesStartUnset(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "quick")
	p, err := env.Reg.Transition(env.Ctx, "quick", registry.ActionComplete, registry.TransitionOptions{})
	if err != nil {
		t.Fatalf("complete from planned: %v", err)
	}
	if p.Status != domain.StatusCompleted || p.StartedAt != nil || p.CompletedAt == nil {
		t.Fatalf("got status=%q started=%v completed=%v", p.Status, p.StartedAt, p.CompletedAt)
	}
}

func TestBlockUnblockRestoresPriorStatus(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "a")
	if _, err := env.Reg.Transition(env.Ctx, "a", registry.ActionStart, registry.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}
	p, err := env.Reg.Transition(env.Ctx, "a", registry.ActionBlock, registry.TransitionOptions{Reason: "waiting on vendor"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusBlocked {
		t.Fatalf("status = %q, want blocked", p.Status)
	}
	p, err = env.Reg.Transition(env.Ctx, "a", registry.ActionUnblock, registry.TransitionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusActive {
		t.Fatalf("unblock restored %q, want active", p.Status)
	}

	// blocked from planned goes back to planned
	mustAdd(t, env, "b")
	if _, err := env.Reg.Transition(env.Ctx, "b", registry.ActionBlock, registry.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}
	p, err = env.Reg.Transition(env.Ctx, "b", registry.ActionUnblock, registry.TransitionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusPlanned {
		t.Fatalf("unblock restored %q, want planned", p.Status)
	}
}

func TestArchivedIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "old")
	if _, err := env.Reg.Transition(env.Ctx, "old", registry.ActionArchive, registry.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}
	for _, action := range []string{registry.ActionStart, registry.ActionComplete, registry.ActionBlock, registry.ActionUnblock, registry.ActionArchive} {
		_, err := env.Reg.Transition(env.Ctx, "old", action, registry.TransitionOptions{})
		var se registry.StateError
		if !errors.As(err, &se) {
			t.Fatalf("%s on archived err = %v, want StateError", action, err)
		}
	}
}

func TestCompleteOnBlockedRejected(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "stuck")
	if _, err := env.Reg.Transition(env.Ctx, "stuck", registry.ActionBlock, registry.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Reg.Transition(env.Ctx, "stuck", registry.ActionComplete, registry.TransitionOptions{})
	var se registry.StateError
	if !errors.As(err, &se) {
		t.Fatalf("complete on blocked err = %v, want StateError", err)
	}
}

func TestUpdateAuditsOnlyChangedFields(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "u")
	before, err := env.Reg.Repo.ListUpdates(env.Ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	name := "Renamed"
	prio := domain.PriorityHigh
	samePrio := domain.PriorityHigh
	if _, err := env.Reg.Update(env.Ctx, "u", registry.Patch{Name: &name, Priority: &prio, Reason: "replan"}); err != nil {
		t.Fatal(err)
	}
	after, err := env.Reg.Repo.ListUpdates(env.Ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(after)-len(before) != 2 {
		t.Fatalf("new audit rows = %d, want 2", len(after)-len(before))
	}
	// no-op patch appends nothing
	if _, err := env.Reg.Update(env.Ctx, "u", registry.Patch{Priority: &samePrio}); err != nil {
		t.Fatal(err)
	}
	again, err := env.Reg.Repo.ListUpdates(env.Ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != len(after) {
		t.Fatalf("no-op update appended %d rows", len(again)-len(after))
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "A")
	mustAdd(t, env, "B")
	mustAdd(t, env, "C")
	if _, err := env.Reg.AddDependency(env.Ctx, "A", "B", domain.DepBlocks); err != nil {
		t.Fatalf("A->B: %v", err)
	}
	_, err := env.Reg.AddDependency(env.Ctx, "B", "A", domain.DepBlocks)
	var ie registry.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("B->A err = %v, want IntegrityError", err)
	}
	want := []string{"A", "B", "A"}
	if len(ie.Cycle) != len(want) {
		t.Fatalf("cycle = %v, want %v", ie.Cycle, want)
	}
	for i := range want {
		if ie.Cycle[i] != want[i] {
			t.Fatalf("cycle = %v, want %v", ie.Cycle, want)
		}
	}

	// transitive: B->C then C->A would close A->B->C->A
	if _, err := env.Reg.AddDependency(env.Ctx, "B", "C", domain.DepBlocks); err != nil {
		t.Fatalf("B->C: %v", err)
	}
	if _, err := env.Reg.AddDependency(env.Ctx, "C", "A", domain.DepBlocks); !errors.As(err, &ie) {
		t.Fatalf("C->A err = %v, want IntegrityError", err)
	}
}

func TestConcurrentDependencyWritesStayAcyclic(t *testing.T) {
	env := newTestEnv(t)

	// second connection to the same store, as a second process would open
	conn2, err := db.Open(db.Config{Workspace: env.Dir})
	if err != nil {
		t.Fatalf("open second connection: %v", err)
	}
	t.Cleanup(func() { conn2.Close() })
	reg2 := registry.New(conn2, config.Default(), env.Dir)
	reg2.ExportWarn = func(error) {}

	for i := 0; i < 5; i++ {
		a := fmt.Sprintf("a%d", i)
		b := fmt.Sprintf("b%d", i)
		mustAdd(t, env, a)
		mustAdd(t, env, b)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = env.Reg.AddDependency(env.Ctx, a, b, domain.DepBlocks)
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = reg2.AddDependency(env.Ctx, b, a, domain.DepBlocks)
		}()
		wg.Wait()

		if errs[0] == nil && errs[1] == nil {
			t.Fatalf("iteration %d: both reciprocal edges accepted", i)
		}
		forward, err := env.Reg.Repo.HasDependency(env.Ctx, a, b)
		if err != nil {
			t.Fatal(err)
		}
		backward, err := env.Reg.Repo.HasDependency(env.Ctx, b, a)
		if err != nil {
			t.Fatal(err)
		}
		if forward && backward {
			t.Fatalf("iteration %d: store holds both %s->%s and %s->%s", i, a, b, b, a)
		}
		for _, e := range errs {
			if e == nil || registry.IsRetryable(e) {
				continue
			}
			var ie registry.IntegrityError
			var ve registry.ValidationError
			if !errors.As(e, &ie) && !errors.As(e, &ve) {
				t.Fatalf("iteration %d: unexpected error %v", i, e)
			}
		}
	}
}

func TestDependencyValidation(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "A")
	var ve registry.ValidationError
	if _, err := env.Reg.AddDependency(env.Ctx, "A", "A", domain.DepBlocks); !errors.As(err, &ve) {
		t.Fatalf("self-dependency err = %v, want ValidationError", err)
	}
	var ie registry.IntegrityError
	if _, err := env.Reg.AddDependency(env.Ctx, "A", "ghost", domain.DepBlocks); !errors.As(err, &ie) {
		t.Fatalf("dangling target err = %v, want IntegrityError", err)
	}
	mustAdd(t, env, "B")
	if _, err := env.Reg.AddDependency(env.Ctx, "A", "B", domain.DepBlocks); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Reg.AddDependency(env.Ctx, "A", "B", domain.DepBlocks); !errors.As(err, &ve) {
		t.Fatalf("duplicate edge err = %v, want ValidationError", err)
	}
}

func TestRemoveRefusesThenCascades(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "A")
	mustAdd(t, env, "C")
	if _, err := env.Reg.AddDependency(env.Ctx, "C", "A", domain.DepOptional); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Reg.AddDeliverable(env.Ctx, "A", domain.Deliverable{Name: "report", Type: domain.DeliverableDocumentation}); err != nil {
		t.Fatal(err)
	}

	// all dependency types block deletion without cascade
	err := env.Reg.Remove(env.Ctx, "A", false)
	var ie registry.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("remove without cascade err = %v, want IntegrityError", err)
	}

	if err := env.Reg.Remove(env.Ctx, "A", true); err != nil {
		t.Fatalf("remove cascade: %v", err)
	}
	if _, err := env.Reg.Repo.GetProject(env.Ctx, "A"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("project still present: %v", err)
	}
	deps, err := env.Reg.Repo.ListDependencies(env.Ctx, "C")
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 0 {
		t.Fatalf("C still has edges: %v", deps)
	}
	updates, err := env.Reg.Repo.ListUpdates(env.Ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 0 {
		t.Fatalf("audit rows survived removal: %d", len(updates))
	}
	deliverables, err := env.Reg.Repo.ListDeliverables(env.Ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if len(deliverables) != 0 {
		t.Fatalf("deliverables survived removal: %d", len(deliverables))
	}
}

func TestDeliverableLifecycle(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "p")
	d, err := env.Reg.AddDeliverable(env.Ctx, "p", domain.Deliverable{Name: "cli", Type: domain.DeliverableTool})
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.DeliverablePlanned || d.CompletedAt != nil {
		t.Fatalf("new deliverable: %+v", d)
	}
	status := domain.DeliverableCompleted
	path := "bin/cli"
	d, err = env.Reg.UpdateDeliverable(env.Ctx, "p", "cli", registry.DeliverablePatch{Status: &status, FilePath: &path})
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.DeliverableCompleted || d.CompletedAt == nil || d.FilePath != "bin/cli" {
		t.Fatalf("completed deliverable: %+v", d)
	}

	var ve registry.ValidationError
	if _, err := env.Reg.AddDeliverable(env.Ctx, "p", domain.Deliverable{Name: "cli", Type: domain.DeliverableTool}); !errors.As(err, &ve) {
		t.Fatalf("duplicate deliverable err = %v, want ValidationError", err)
	}
}

func TestBacklogOrdering(t *testing.T) {
	env := newTestEnv(t)
	add := func(id, priority string, effort float64) {
		t.Helper()
		_, err := env.Reg.Add(env.Ctx, domain.Project{ID: id, Name: id, Priority: priority, EffortHours: &effort})
		if err != nil {
			t.Fatal(err)
		}
	}
	add("low-small", domain.PriorityLow, 1)
	add("crit-small", domain.PriorityCritical, 2)
	add("crit-big", domain.PriorityCritical, 20)
	add("done", domain.PriorityCritical, 50)
	if _, err := env.Reg.Transition(env.Ctx, "done", registry.ActionComplete, registry.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}

	backlog, err := env.Reg.Backlog(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, p := range backlog {
		ids = append(ids, p.ID)
	}
	want := []string{"crit-big", "crit-small", "low-small"}
	if len(ids) != len(want) {
		t.Fatalf("backlog = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("backlog = %v, want %v", ids, want)
		}
	}
}

func TestExportsRegeneratedAfterWrite(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "e1")
	for _, name := range []string{"registry.md", "registry.json"} {
		if _, err := os.Stat(filepath.Join(env.Dir, "exports", name)); err != nil {
			t.Fatalf("export %s missing: %v", name, err)
		}
	}
}
