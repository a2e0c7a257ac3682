// Package registry is the sole mutation surface over the store. Every write
// happens inside one transaction, appends audit rows for each changed field,
// and regenerates the exports after commit.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"regline/internal/audit"
	"regline/internal/config"
	"regline/internal/domain"
	"regline/internal/export"
	"regline/internal/graph"
	"regline/internal/repo"
)

type Registry struct {
	DB        *sql.DB
	Repo      repo.Repo
	Audit     audit.Writer
	Config    *config.Config
	Workspace string
	Now       func() time.Time

	// ExportWarn receives non-fatal export regeneration failures. The
	// underlying mutation has already committed when it is called.
	ExportWarn func(error)
}

func New(db *sql.DB, cfg *config.Config, workspace string) *Registry {
	r := &Registry{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Config:    cfg,
		Workspace: workspace,
		Now:       time.Now,
		ExportWarn: func(err error) {
			fmt.Fprintf(os.Stderr, "warning: export regeneration failed: %v\n", err)
		},
	}
	// The audit writer shares the registry clock so injected test clocks
	// stamp audit rows too.
	r.Audit = audit.Writer{DB: db, Now: r.now}
	return r
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// NowString renders the injected clock as the RFC3339 UTC timestamps the
// store holds.
func (r *Registry) NowString() string {
	return r.now().UTC().Format(time.RFC3339)
}

// ExportDir returns where exports are regenerated.
func (r *Registry) ExportDir() string {
	return filepath.Join(r.Workspace, r.Config.Exports.Dir)
}

// afterWrite regenerates exports once a mutation has committed. Failures are
// reported through ExportWarn, never rolled back into the caller.
func (r *Registry) afterWrite(ctx context.Context) {
	err := export.Regenerate(ctx, r.Repo, r.ExportDir(), r.Config.Exports.Formats, r.NowString())
	if err != nil && r.ExportWarn != nil {
		r.ExportWarn(err)
	}
}

func (r *Registry) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin", err)
	}
	return tx, nil
}

func (r *Registry) commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

func validateProject(p domain.Project) error {
	if p.ID == "" {
		return ValidationError{Field: "id", Msg: "is required"}
	}
	if p.Name == "" {
		return ValidationError{Field: "name", Msg: "is required"}
	}
	if !domain.ValidStatus(p.Status) {
		return ValidationError{Field: "status", Msg: fmt.Sprintf("%q is not a status", p.Status)}
	}
	if !domain.ValidPriority(p.Priority) {
		return ValidationError{Field: "priority", Msg: fmt.Sprintf("%q is not a priority", p.Priority)}
	}
	if p.Impact != "" && !domain.ValidImpact(p.Impact) {
		return ValidationError{Field: "impact", Msg: fmt.Sprintf("%q is not an impact", p.Impact)}
	}
	if p.EffortHours != nil && *p.EffortHours < 0 {
		return ValidationError{Field: "effort_hours", Msg: "must be >= 0"}
	}
	if p.ActualHours != nil && *p.ActualHours < 0 {
		return ValidationError{Field: "actual_hours", Msg: "must be >= 0"}
	}
	return nil
}

// Add creates a project. Status defaults to planned; the importer may pass
// another valid status when ingesting legacy documents.
func (r *Registry) Add(ctx context.Context, p domain.Project) (domain.Project, error) {
	if p.Status == "" {
		p.Status = domain.StatusPlanned
	}
	if p.Priority == "" {
		p.Priority = r.Config.Defaults.Priority
		if p.Priority == "" {
			p.Priority = domain.PriorityMedium
		}
	}
	if p.Category == "" {
		p.Category = r.Config.Defaults.Category
	}
	if err := validateProject(p); err != nil {
		return p, err
	}
	exists, err := r.Repo.ProjectExists(ctx, p.ID)
	if err != nil {
		return p, storeErr("lookup project", err)
	}
	if exists {
		return p, ValidationError{Field: "id", Msg: fmt.Sprintf("project %q already exists", p.ID)}
	}
	now := r.NowString()
	p.CreatedAt = now
	p.UpdatedAt = now
	tx, err := r.begin(ctx)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := r.Repo.InsertProject(ctx, tx, p); err != nil {
		return p, storeErr("insert project", err)
	}
	if err := r.Audit.Append(ctx, tx, p.ID, "status", nil, audit.Value(p.Status), ""); err != nil {
		return p, storeErr("append audit", err)
	}
	if err := r.commit(tx); err != nil {
		return p, err
	}
	r.afterWrite(ctx)
	return p, nil
}

// Patch is a partial field change for Update. Nil pointers leave the field
// untouched. id, created_at and status are deliberately absent: the first
// two are immutable, status belongs to Transition.
type Patch struct {
	Name        *string
	Priority    *string
	Category    *string
	EffortHours *float64
	Impact      *string
	PlanPath    *string
	Description *string
	Notes       *string
	AddTags     []string
	RemoveTags  []string
	AddRefs     []string
	Reason      string
}

type fieldChange struct {
	field    string
	oldValue *string
	newValue *string
}

// Update applies a partial change, appending exactly one audit row per field
// whose value actually changed.
func (r *Registry) Update(ctx context.Context, id string, patch Patch) (domain.Project, error) {
	p, err := r.Repo.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return p, err
		}
		return p, storeErr("lookup project", err)
	}
	var changes []fieldChange
	record := func(field, oldV, newV string) {
		changes = append(changes, fieldChange{field: field, oldValue: optional(oldV), newValue: optional(newV)})
	}
	if patch.Name != nil && *patch.Name != p.Name {
		if *patch.Name == "" {
			return p, ValidationError{Field: "name", Msg: "is required"}
		}
		record("name", p.Name, *patch.Name)
		p.Name = *patch.Name
	}
	if patch.Priority != nil && *patch.Priority != p.Priority {
		if !domain.ValidPriority(*patch.Priority) {
			return p, ValidationError{Field: "priority", Msg: fmt.Sprintf("%q is not a priority", *patch.Priority)}
		}
		record("priority", p.Priority, *patch.Priority)
		p.Priority = *patch.Priority
	}
	if patch.Category != nil && *patch.Category != p.Category {
		record("category", p.Category, *patch.Category)
		p.Category = *patch.Category
	}
	if patch.EffortHours != nil && (p.EffortHours == nil || *patch.EffortHours != *p.EffortHours) {
		if *patch.EffortHours < 0 {
			return p, ValidationError{Field: "effort_hours", Msg: "must be >= 0"}
		}
		record("effort_hours", repo.FormatValue(p.EffortHours), repo.FormatValue(*patch.EffortHours))
		p.EffortHours = patch.EffortHours
	}
	if patch.Impact != nil && *patch.Impact != p.Impact {
		if *patch.Impact != "" && !domain.ValidImpact(*patch.Impact) {
			return p, ValidationError{Field: "impact", Msg: fmt.Sprintf("%q is not an impact", *patch.Impact)}
		}
		record("impact", p.Impact, *patch.Impact)
		p.Impact = *patch.Impact
	}
	if patch.PlanPath != nil && *patch.PlanPath != p.PlanPath {
		record("plan_path", p.PlanPath, *patch.PlanPath)
		p.PlanPath = *patch.PlanPath
	}
	if patch.Description != nil && *patch.Description != p.Description {
		record("description", p.Description, *patch.Description)
		p.Description = *patch.Description
	}
	if patch.Notes != nil && *patch.Notes != p.Notes {
		record("notes", p.Notes, *patch.Notes)
		p.Notes = *patch.Notes
	}
	if len(patch.AddTags) > 0 || len(patch.RemoveTags) > 0 {
		newTags := editTags(p.Tags, patch.AddTags, patch.RemoveTags)
		if oldS, newS := repo.FormatValue(p.Tags), repo.FormatValue(newTags); oldS != newS {
			record("tags", oldS, newS)
			p.Tags = newTags
		}
	}
	if len(patch.AddRefs) > 0 {
		newRefs := editTags(p.ExternalRefs, patch.AddRefs, nil)
		if oldS, newS := repo.FormatValue(p.ExternalRefs), repo.FormatValue(newRefs); oldS != newS {
			record("external_refs", oldS, newS)
			p.ExternalRefs = newRefs
		}
	}
	if len(changes) == 0 {
		return p, nil
	}
	p.UpdatedAt = r.NowString()
	tx, err := r.begin(ctx)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := r.Repo.UpdateProject(ctx, tx, p); err != nil {
		return p, storeErr("update project", err)
	}
	for _, c := range changes {
		if err := r.Audit.Append(ctx, tx, p.ID, c.field, c.oldValue, c.newValue, patch.Reason); err != nil {
			return p, storeErr("append audit", err)
		}
	}
	if err := r.commit(tx); err != nil {
		return p, err
	}
	r.afterWrite(ctx)
	return p, nil
}

// Transition actions.
const (
	ActionStart    = "start"
	ActionComplete = "complete"
	ActionBlock    = "block"
	ActionUnblock  = "unblock"
	ActionArchive  = "archive"
)

type TransitionOptions struct {
	ActualHours *float64
	Notes       string
	Reason      string
}

// Transition applies the project state machine:
//
//	planned --start--> active --complete--> completed
//	planned/active --block--> blocked --unblock--> (prior status)
//	any non-archived --archive--> archived (terminal)
//
// complete is also accepted from planned (work done without being started).
func (r *Registry) Transition(ctx context.Context, id, action string, opts TransitionOptions) (domain.Project, error) {
	if opts.ActualHours != nil && *opts.ActualHours < 0 {
		return domain.Project{}, ValidationError{Field: "actual_hours", Msg: "must be >= 0"}
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := r.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return p, err
		}
		return p, storeErr("lookup project", err)
	}
	if p.Status == domain.StatusArchived {
		return p, StateError{Current: p.Status, Requested: action,
			Msg: fmt.Sprintf("project %s is archived; no further transitions", id)}
	}

	now := r.NowString()
	var changes []fieldChange
	record := func(field, oldV, newV string) {
		changes = append(changes, fieldChange{field: field, oldValue: optional(oldV), newValue: optional(newV)})
	}

	switch action {
	case ActionStart:
		if p.Status == domain.StatusActive {
			return p, StateError{Current: p.Status, Requested: domain.StatusActive, Msg: fmt.Sprintf("project %s is already active", id)}
		}
		if p.Status != domain.StatusPlanned {
			return p, StateError{Current: p.Status, Requested: domain.StatusActive}
		}
		if p.StartedAt != nil {
			return p, StateError{Current: p.Status, Requested: domain.StatusActive,
				Msg: "started_at is already set; start is write-once"}
		}
		record("status", p.Status, domain.StatusActive)
		record("started_at", "", now)
		p.Status = domain.StatusActive
		p.StartedAt = &now

	case ActionComplete:
		if p.Status != domain.StatusActive && p.Status != domain.StatusPlanned {
			return p, StateError{Current: p.Status, Requested: domain.StatusCompleted}
		}
		if p.CompletedAt != nil {
			return p, StateError{Current: p.Status, Requested: domain.StatusCompleted,
				Msg: "completed_at is already set; complete is write-once"}
		}
		record("status", p.Status, domain.StatusCompleted)
		record("completed_at", "", now)
		p.Status = domain.StatusCompleted
		p.CompletedAt = &now
		if opts.ActualHours != nil {
			record("actual_hours", repo.FormatValue(p.ActualHours), repo.FormatValue(*opts.ActualHours))
			p.ActualHours = opts.ActualHours
		}
		if opts.Notes != "" && opts.Notes != p.Notes {
			record("notes", p.Notes, opts.Notes)
			p.Notes = opts.Notes
		}

	case ActionBlock:
		if p.Status != domain.StatusPlanned && p.Status != domain.StatusActive {
			return p, StateError{Current: p.Status, Requested: domain.StatusBlocked}
		}
		record("status", p.Status, domain.StatusBlocked)
		p.Status = domain.StatusBlocked

	case ActionUnblock:
		if p.Status != domain.StatusBlocked {
			return p, StateError{Current: p.Status, Requested: ActionUnblock,
				Msg: fmt.Sprintf("project %s is %s, not blocked", id, p.Status)}
		}
		prior, err := r.Repo.LastStatusBefore(ctx, tx, id, domain.StatusBlocked)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return p, storeErr("read audit", err)
		}
		if prior != domain.StatusPlanned && prior != domain.StatusActive {
			prior = domain.StatusPlanned
		}
		record("status", p.Status, prior)
		p.Status = prior

	case ActionArchive:
		record("status", p.Status, domain.StatusArchived)
		p.Status = domain.StatusArchived

	default:
		return p, ValidationError{Field: "action", Msg: fmt.Sprintf("%q is not a transition", action)}
	}

	p.UpdatedAt = now
	if err := r.Repo.UpdateProject(ctx, tx, p); err != nil {
		return p, storeErr("update project", err)
	}
	for _, c := range changes {
		if err := r.Audit.Append(ctx, tx, p.ID, c.field, c.oldValue, c.newValue, opts.Reason); err != nil {
			return p, storeErr("append audit", err)
		}
	}
	if err := r.commit(tx); err != nil {
		return p, err
	}
	r.afterWrite(ctx)
	return p, nil
}

// AddDeliverable attaches a deliverable to a project.
func (r *Registry) AddDeliverable(ctx context.Context, projectID string, d domain.Deliverable) (domain.Deliverable, error) {
	if d.Name == "" {
		return d, ValidationError{Field: "name", Msg: "is required"}
	}
	if !domain.ValidDeliverableType(d.Type) {
		return d, ValidationError{Field: "type", Msg: fmt.Sprintf("%q is not a deliverable type", d.Type)}
	}
	if d.Status == "" {
		d.Status = domain.DeliverablePlanned
	}
	if !domain.ValidDeliverableStatus(d.Status) {
		return d, ValidationError{Field: "status", Msg: fmt.Sprintf("%q is not a deliverable status", d.Status)}
	}
	exists, err := r.Repo.ProjectExists(ctx, projectID)
	if err != nil {
		return d, storeErr("lookup project", err)
	}
	if !exists {
		return d, IntegrityError{Msg: fmt.Sprintf("project %q does not exist", projectID)}
	}
	if _, err := r.Repo.GetDeliverable(ctx, projectID, d.Name); err == nil {
		return d, ValidationError{Field: "name", Msg: fmt.Sprintf("deliverable %q already exists on %s", d.Name, projectID)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return d, storeErr("lookup deliverable", err)
	}
	d.ProjectID = projectID
	d.ID = newID()
	d.CreatedAt = r.NowString()
	if d.Status == domain.DeliverableCompleted {
		ts := d.CreatedAt
		d.CompletedAt = &ts
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := r.Repo.InsertDeliverable(ctx, tx, d); err != nil {
		return d, storeErr("insert deliverable", err)
	}
	if err := r.Audit.Append(ctx, tx, projectID, "deliverable/"+d.Name, nil, audit.Value(d.Status), ""); err != nil {
		return d, storeErr("append audit", err)
	}
	if err := r.commit(tx); err != nil {
		return d, err
	}
	r.afterWrite(ctx)
	return d, nil
}

type DeliverablePatch struct {
	Status   *string
	FilePath *string
}

// UpdateDeliverable applies a scoped change to one deliverable.
func (r *Registry) UpdateDeliverable(ctx context.Context, projectID, name string, patch DeliverablePatch) (domain.Deliverable, error) {
	d, err := r.Repo.GetDeliverable(ctx, projectID, name)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return d, err
		}
		return d, storeErr("lookup deliverable", err)
	}
	var changes []fieldChange
	if patch.Status != nil && *patch.Status != d.Status {
		if !domain.ValidDeliverableStatus(*patch.Status) {
			return d, ValidationError{Field: "status", Msg: fmt.Sprintf("%q is not a deliverable status", *patch.Status)}
		}
		changes = append(changes, fieldChange{field: "deliverable/" + name, oldValue: optional(d.Status), newValue: optional(*patch.Status)})
		d.Status = *patch.Status
		if d.Status == domain.DeliverableCompleted && d.CompletedAt == nil {
			ts := r.NowString()
			d.CompletedAt = &ts
		}
	}
	if patch.FilePath != nil && *patch.FilePath != d.FilePath {
		changes = append(changes, fieldChange{field: "deliverable/" + name + "/file_path", oldValue: optional(d.FilePath), newValue: optional(*patch.FilePath)})
		d.FilePath = *patch.FilePath
	}
	if len(changes) == 0 {
		return d, nil
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := r.Repo.UpdateDeliverable(ctx, tx, d); err != nil {
		return d, storeErr("update deliverable", err)
	}
	for _, c := range changes {
		if err := r.Audit.Append(ctx, tx, projectID, c.field, c.oldValue, c.newValue, ""); err != nil {
			return d, storeErr("append audit", err)
		}
	}
	if err := r.commit(tx); err != nil {
		return d, err
	}
	r.afterWrite(ctx)
	return d, nil
}

// AddDependency records that projectID depends on dependsOnID. The cycle
// check runs inside the insert transaction: the store opens write
// transactions immediate, so the check sees every committed edge and no
// other writer can commit a reciprocal edge between check and insert.
func (r *Registry) AddDependency(ctx context.Context, projectID, dependsOnID, depType string) (domain.Dependency, error) {
	var d domain.Dependency
	if projectID == dependsOnID {
		return d, ValidationError{Field: "depends_on", Msg: "a project cannot depend on itself"}
	}
	if depType == "" {
		depType = domain.DepBlocks
	}
	if !domain.ValidDependencyType(depType) {
		return d, ValidationError{Field: "type", Msg: fmt.Sprintf("%q is not a dependency type", depType)}
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	for _, id := range []string{projectID, dependsOnID} {
		exists, err := r.Repo.ProjectExistsTx(ctx, tx, id)
		if err != nil {
			return d, storeErr("lookup project", err)
		}
		if !exists {
			return d, IntegrityError{Msg: fmt.Sprintf("project %q does not exist", id)}
		}
	}
	dup, err := r.Repo.HasDependencyTx(ctx, tx, projectID, dependsOnID)
	if err != nil {
		return d, storeErr("lookup dependency", err)
	}
	if dup {
		return d, ValidationError{Field: "depends_on", Msg: fmt.Sprintf("%s already depends on %s", projectID, dependsOnID)}
	}
	deps, err := r.Repo.ListAllDependenciesTx(ctx, tx)
	if err != nil {
		return d, storeErr("list dependencies", err)
	}
	edges := make([]graph.Edge, 0, len(deps))
	for _, dep := range deps {
		edges = append(edges, graph.Edge{From: dep.ProjectID, To: dep.DependsOnID})
	}
	if cycle := graph.FindCycle(edges, projectID, dependsOnID); cycle != nil {
		return d, IntegrityError{Cycle: cycle}
	}
	d = domain.Dependency{
		ProjectID:   projectID,
		DependsOnID: dependsOnID,
		Type:        depType,
		CreatedAt:   r.NowString(),
	}
	if err := r.Repo.InsertDependency(ctx, tx, d); err != nil {
		return d, storeErr("insert dependency", err)
	}
	if err := r.Audit.Append(ctx, tx, projectID, "dependency/"+dependsOnID, nil, audit.Value(depType), ""); err != nil {
		return d, storeErr("append audit", err)
	}
	if err := r.commit(tx); err != nil {
		return d, err
	}
	r.afterWrite(ctx)
	return d, nil
}

// RemoveDependency deletes one edge.
func (r *Registry) RemoveDependency(ctx context.Context, projectID, dependsOnID string) error {
	deps, err := r.Repo.ListDependencies(ctx, projectID)
	if err != nil {
		return storeErr("list dependencies", err)
	}
	depType := ""
	for _, d := range deps {
		if d.DependsOnID == dependsOnID {
			depType = d.Type
		}
	}
	if depType == "" {
		return repo.ErrNotFound
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.Repo.DeleteDependency(ctx, tx, projectID, dependsOnID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return storeErr("delete dependency", err)
	}
	if err := r.Audit.Append(ctx, tx, projectID, "dependency/"+dependsOnID, audit.Value(depType), nil, ""); err != nil {
		return storeErr("append audit", err)
	}
	if err := r.commit(tx); err != nil {
		return err
	}
	r.afterWrite(ctx)
	return nil
}

// Remove hard-deletes a project with its deliverables, audit rows and edges.
// It refuses while other projects depend on it unless cascade is set; all
// dependency types block deletion equally.
func (r *Registry) Remove(ctx context.Context, id string, cascade bool) error {
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := r.Repo.GetProjectTx(ctx, tx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return storeErr("lookup project", err)
	}
	n, dependents, err := r.Repo.CountDependents(ctx, tx, id)
	if err != nil {
		return storeErr("count dependents", err)
	}
	if n > 0 && !cascade {
		return IntegrityError{Msg: fmt.Sprintf("project %q has dependents %v; use cascade to remove", id, dependents)}
	}
	if err := r.Repo.DeleteEdges(ctx, tx, id); err != nil {
		return storeErr("delete edges", err)
	}
	if err := r.Repo.DeleteDeliverables(ctx, tx, id); err != nil {
		return storeErr("delete deliverables", err)
	}
	if err := r.Repo.DeleteUpdates(ctx, tx, id); err != nil {
		return storeErr("delete updates", err)
	}
	if err := r.Repo.DeleteProject(ctx, tx, id); err != nil {
		return storeErr("delete project", err)
	}
	if err := r.commit(tx); err != nil {
		return err
	}
	r.afterWrite(ctx)
	return nil
}

// Backlog lists unfinished projects in working order: priority tier first,
// then effort descending, then id.
func (r *Registry) Backlog(ctx context.Context) ([]domain.Project, error) {
	all, err := r.Repo.ListProjects(ctx, repo.ProjectFilters{})
	if err != nil {
		return nil, storeErr("list projects", err)
	}
	var res []domain.Project
	for _, p := range all {
		if p.Status == domain.StatusCompleted || p.Status == domain.StatusArchived {
			continue
		}
		res = append(res, p)
	}
	sort.SliceStable(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if ra, rb := domain.PriorityRank(a.Priority), domain.PriorityRank(b.Priority); ra != rb {
			return ra < rb
		}
		ea, eb := 0.0, 0.0
		if a.EffortHours != nil {
			ea = *a.EffortHours
		}
		if b.EffortHours != nil {
			eb = *b.EffortHours
		}
		if ea != eb {
			return ea > eb
		}
		return a.ID < b.ID
	})
	return res, nil
}

type Stats struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	ByPriority      map[string]int `json:"by_priority"`
	EffortPlanned   float64        `json:"effort_planned_hours"`
	EffortCompleted float64        `json:"effort_completed_hours"`
	ActualCompleted float64        `json:"actual_completed_hours"`
	Variance        float64        `json:"variance_hours"`
}

// ComputeStats aggregates counts and effort. Variance is actual minus
// estimate over completed projects carrying both figures.
func (r *Registry) ComputeStats(ctx context.Context) (Stats, error) {
	var s Stats
	byStatus, err := r.Repo.CountProjectsByStatus(ctx)
	if err != nil {
		return s, storeErr("count by status", err)
	}
	byPriority, err := r.Repo.CountProjectsByPriority(ctx)
	if err != nil {
		return s, storeErr("count by priority", err)
	}
	s.ByStatus = byStatus
	s.ByPriority = byPriority
	for _, n := range byStatus {
		s.Total += n
	}
	all, err := r.Repo.ListProjects(ctx, repo.ProjectFilters{})
	if err != nil {
		return s, storeErr("list projects", err)
	}
	for _, p := range all {
		switch p.Status {
		case domain.StatusCompleted:
			if p.EffortHours != nil {
				s.EffortCompleted += *p.EffortHours
			}
			if p.ActualHours != nil {
				s.ActualCompleted += *p.ActualHours
			}
			if p.EffortHours != nil && p.ActualHours != nil {
				s.Variance += *p.ActualHours - *p.EffortHours
			}
		case domain.StatusArchived:
		default:
			if p.EffortHours != nil {
				s.EffortPlanned += *p.EffortHours
			}
		}
	}
	return s, nil
}

// ProjectExists reports whether id is present, classifying store failures
// so callers can tell lock contention from fatal errors.
func (r *Registry) ProjectExists(ctx context.Context, id string) (bool, error) {
	exists, err := r.Repo.ProjectExists(ctx, id)
	if err != nil {
		return false, storeErr("lookup project", err)
	}
	return exists, nil
}

// TopoOrder returns every project id in dependency order for display.
func (r *Registry) TopoOrder(ctx context.Context) ([]string, error) {
	all, err := r.Repo.ListProjects(ctx, repo.ProjectFilters{})
	if err != nil {
		return nil, storeErr("list projects", err)
	}
	nodes := make([]graph.Node, 0, len(all))
	for _, p := range all {
		nodes = append(nodes, graph.Node{
			ID:        p.ID,
			Priority:  domain.PriorityRank(p.Priority),
			CreatedAt: p.CreatedAt,
		})
	}
	edges, err := r.edges(ctx)
	if err != nil {
		return nil, err
	}
	return graph.TopoSort(nodes, edges), nil
}

func (r *Registry) edges(ctx context.Context) ([]graph.Edge, error) {
	deps, err := r.Repo.ListAllDependencies(ctx)
	if err != nil {
		return nil, storeErr("list dependencies", err)
	}
	edges := make([]graph.Edge, 0, len(deps))
	for _, d := range deps {
		edges = append(edges, graph.Edge{From: d.ProjectID, To: d.DependsOnID})
	}
	return edges, nil
}

func editTags(current, add, remove []string) []string {
	seen := map[string]bool{}
	var out []string
	removed := map[string]bool{}
	for _, t := range remove {
		removed[t] = true
	}
	for _, t := range append(append([]string{}, current...), add...) {
		if t == "" || seen[t] || removed[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func newID() string {
	return uuid.NewString()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
