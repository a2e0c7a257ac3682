// Package export renders deterministic projections of the store: a
// priority-ordered markdown report and a full JSON dump. Rendering is a pure
// function of a loaded snapshot; the only render-time input is the
// generated_at header the caller supplies.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"regline/internal/domain"
	"regline/internal/repo"
)

const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

type ProjectEntry struct {
	domain.Project
	Deliverables []domain.Deliverable `json:"deliverables"`
	Dependencies []domain.Dependency  `json:"dependencies"`
}

type Snapshot struct {
	Projects    []ProjectEntry `json:"projects"`
	GeneratedAt string         `json:"generated_at"`
}

// Load reads a consistent snapshot and orders it: priority tiers from
// critical down, then effort descending, then id ascending. The order is a
// property of the data, so two loads of the same store agree byte for byte.
func Load(ctx context.Context, r repo.Repo, status, generatedAt string) (*Snapshot, error) {
	projects, err := r.ListProjects(ctx, repo.ProjectFilters{Status: status})
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{GeneratedAt: generatedAt, Projects: make([]ProjectEntry, 0, len(projects))}
	for _, p := range projects {
		deliverables, err := r.ListDeliverables(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		deps, err := r.ListDependencies(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		snap.Projects = append(snap.Projects, ProjectEntry{
			Project:      p,
			Deliverables: deliverables,
			Dependencies: deps,
		})
	}
	sort.SliceStable(snap.Projects, func(i, j int) bool {
		a, b := snap.Projects[i], snap.Projects[j]
		ra, rb := domain.PriorityRank(a.Priority), domain.PriorityRank(b.Priority)
		if ra != rb {
			return ra < rb
		}
		ea, eb := effortOf(a.Project), effortOf(b.Project)
		if ea != eb {
			return ea > eb
		}
		return a.ID < b.ID
	})
	return snap, nil
}

func effortOf(p domain.Project) float64 {
	if p.EffortHours == nil {
		return 0
	}
	return *p.EffortHours
}

// JSONBytes renders the machine-readable dump.
func (s *Snapshot) JSONBytes() ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

var tierOrder = []string{
	domain.PriorityCritical,
	domain.PriorityHigh,
	domain.PriorityMedium,
	domain.PriorityLow,
}

// MarkdownBytes renders the human-readable report, sectioned by priority.
func (s *Snapshot) MarkdownBytes() []byte {
	var b strings.Builder
	b.WriteString("# Project Registry\n\n")
	fmt.Fprintf(&b, "_Generated: %s_\n", s.GeneratedAt)
	for _, tier := range tierOrder {
		var entries []ProjectEntry
		for _, e := range s.Projects {
			if e.Priority == tier {
				entries = append(entries, e)
			}
		}
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", strings.ToUpper(tier[:1])+tier[1:])
		for _, e := range entries {
			writeProject(&b, e)
		}
	}
	return []byte(b.String())
}

func writeProject(b *strings.Builder, e ProjectEntry) {
	fmt.Fprintf(b, "- **%s** — %s (`%s`)\n", e.ID, e.Name, e.Status)
	var facts []string
	if e.EffortHours != nil {
		facts = append(facts, fmt.Sprintf("effort: %gh", *e.EffortHours))
	}
	if e.ActualHours != nil {
		facts = append(facts, fmt.Sprintf("actual: %gh", *e.ActualHours))
	}
	if e.Impact != "" {
		facts = append(facts, "impact: "+e.Impact)
	}
	if e.Category != "" {
		facts = append(facts, "category: "+e.Category)
	}
	if len(facts) > 0 {
		fmt.Fprintf(b, "  - %s\n", strings.Join(facts, " · "))
	}
	if e.PlanPath != "" {
		fmt.Fprintf(b, "  - plan: %s\n", e.PlanPath)
	}
	for _, d := range e.Dependencies {
		fmt.Fprintf(b, "  - depends on %s (%s)\n", d.DependsOnID, d.Type)
	}
	for _, d := range e.Deliverables {
		fmt.Fprintf(b, "  - deliverable: %s [%s, %s]\n", d.Name, d.Type, d.Status)
	}
}

// WriteAtomic writes data to path via a temp file and rename, so a reader
// never observes a partially written export.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Regenerate writes the configured export formats for the current store
// contents into dir. Safe to call after every successful write; exports are
// always reproducible from the store.
func Regenerate(ctx context.Context, r repo.Repo, dir string, formats []string, generatedAt string) error {
	snap, err := Load(ctx, r, "", generatedAt)
	if err != nil {
		return err
	}
	for _, f := range formats {
		switch f {
		case FormatMarkdown:
			if err := WriteAtomic(filepath.Join(dir, "registry.md"), snap.MarkdownBytes()); err != nil {
				return err
			}
		case FormatJSON:
			data, err := snap.JSONBytes()
			if err != nil {
				return err
			}
			if err := WriteAtomic(filepath.Join(dir, "registry.json"), data); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown export format %q", f)
		}
	}
	return nil
}
