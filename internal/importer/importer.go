// Package importer ingests legacy markdown documents into the registry.
// Parsing is structural: a title heading, key-value metadata lines and a
// deliverables section. Each document classifies into exactly one tagged
// variant before any mapping happens, so the heuristics live at a single
// boundary.
package importer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"regline/internal/domain"
	"regline/internal/registry"
)

// Doc is one legacy document to ingest. Path is informational; it ends up in
// the report and, for plan documents, in the project's plan_path.
type Doc struct {
	Path    string
	Content string
}

// Document variants. Classification picks exactly one per document.
type kind int

const (
	kindUnrecognized kind = iota
	kindProjectDoc        // title + status/priority metadata lines
	kindPlanDoc           // "Plan:" title or a Deliverables section
)

// candidate is a classified document mapped to registry input.
type candidate struct {
	kind         kind
	project      domain.Project
	deliverables []domain.Deliverable
	err          error
}

// Report outcomes per document.
const (
	OutcomeMigrated    = "migrated"
	OutcomeSkipped     = "skipped"
	OutcomeErrored     = "errored"
	OutcomeWouldCreate = "would_create"
	OutcomeWouldSkip   = "would_skip"
	OutcomeParseError  = "parse_error"
)

type Entry struct {
	Path    string `json:"path"`
	ID      string `json:"id,omitempty"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// Report covers one batch. Migrated+Skipped+Errored always equals Total.
type Report struct {
	Total    int      `json:"total"`
	Migrated int      `json:"migrated"`
	Skipped  int      `json:"skipped"`
	Errored  int      `json:"errored"`
	Entries  []Entry  `json:"entries"`
	Warnings []string `json:"warnings,omitempty"`
}

type Importer struct {
	Registry   *registry.Registry
	MaxRetries int
	Backoff    time.Duration

	// Sleep and exists are swapped out in tests.
	Sleep  func(time.Duration)
	exists func(ctx context.Context, id string) (bool, error)
}

func New(reg *registry.Registry) *Importer {
	return &Importer{
		Registry:   reg,
		MaxRetries: reg.Config.Importer.MaxRetries,
		Backoff:    time.Duration(reg.Config.Importer.BackoffMS) * time.Millisecond,
		Sleep:      time.Sleep,
	}
}

// projectExists checks id against the store under the same retry policy as
// the writes, so lock contention on the read side cannot abort a batch.
func (im *Importer) projectExists(ctx context.Context, id string) (bool, error) {
	lookup := im.exists
	if lookup == nil {
		lookup = im.Registry.ProjectExists
	}
	var found bool
	err := im.withRetry(func() error {
		var e error
		found, e = lookup(ctx, id)
		return e
	})
	return found, err
}

// DryRun parses and validates without writing. Outcomes mirror Run:
// would_create, would_skip, parse_error.
func (im *Importer) DryRun(ctx context.Context, docs []Doc) (Report, error) {
	rep := Report{Total: len(docs)}
	seen := map[string]string{}
	for _, doc := range docs {
		c := classify(doc)
		if c.err != nil {
			rep.Errored++
			rep.Entries = append(rep.Entries, Entry{Path: doc.Path, Outcome: OutcomeParseError, Reason: c.err.Error()})
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: %v", doc.Path, c.err))
			continue
		}
		id := c.project.ID
		if prev, dup := seen[id]; dup {
			rep.Errored++
			rep.Entries = append(rep.Entries, Entry{Path: doc.Path, ID: id, Outcome: OutcomeParseError,
				Reason: fmt.Sprintf("id %q collides with %s", id, prev)})
			continue
		}
		seen[id] = doc.Path
		exists, err := im.projectExists(ctx, id)
		if err != nil {
			return rep, err
		}
		if exists {
			rep.Skipped++
			rep.Entries = append(rep.Entries, Entry{Path: doc.Path, ID: id, Outcome: OutcomeWouldSkip, Reason: "already present"})
			continue
		}
		rep.Migrated++
		rep.Entries = append(rep.Entries, Entry{Path: doc.Path, ID: id, Outcome: OutcomeWouldCreate})
	}
	return rep, nil
}

// Run ingests the batch. Existing ids are skipped, not errors, so running
// the same batch twice leaves the store unchanged the second time. A
// malformed document is reported and skipped; it never aborts the batch.
func (im *Importer) Run(ctx context.Context, docs []Doc) (Report, error) {
	rep := Report{Total: len(docs)}
	seen := map[string]string{}
	for _, doc := range docs {
		c := classify(doc)
		if c.err != nil {
			rep.Errored++
			rep.Entries = append(rep.Entries, Entry{Path: doc.Path, Outcome: OutcomeParseError, Reason: c.err.Error()})
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: %v", doc.Path, c.err))
			continue
		}
		id := c.project.ID
		if prev, dup := seen[id]; dup {
			rep.Errored++
			rep.Entries = append(rep.Entries, Entry{Path: doc.Path, ID: id, Outcome: OutcomeParseError,
				Reason: fmt.Sprintf("id %q collides with %s", id, prev)})
			continue
		}
		seen[id] = doc.Path
		exists, err := im.projectExists(ctx, id)
		if err != nil {
			return rep, err
		}
		if exists {
			rep.Skipped++
			rep.Entries = append(rep.Entries, Entry{Path: doc.Path, ID: id, Outcome: OutcomeSkipped, Reason: "already present"})
			continue
		}
		err = im.withRetry(func() error {
			_, e := im.Registry.Add(ctx, c.project)
			return e
		})
		if err != nil {
			rep.Errored++
			rep.Entries = append(rep.Entries, Entry{Path: doc.Path, ID: id, Outcome: OutcomeErrored, Reason: err.Error()})
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: %v", doc.Path, err))
			continue
		}
		for _, d := range c.deliverables {
			dErr := im.withRetry(func() error {
				_, e := im.Registry.AddDeliverable(ctx, id, d)
				return e
			})
			if dErr != nil {
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: deliverable %q: %v", doc.Path, d.Name, dErr))
			}
		}
		rep.Migrated++
		rep.Entries = append(rep.Entries, Entry{Path: doc.Path, ID: id, Outcome: OutcomeMigrated})
	}
	return rep, nil
}

// withRetry retries lock-contention store errors with bounded exponential
// backoff. Everything else fails on the first attempt.
func (im *Importer) withRetry(fn func() error) error {
	backoff := im.Backoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !registry.IsRetryable(err) || attempt >= im.MaxRetries {
			return err
		}
		if im.Sleep != nil {
			im.Sleep(backoff)
		}
		backoff *= 2
	}
}

var (
	headingRe  = regexp.MustCompile(`^#\s+(.+?)\s*$`)
	keyValueRe = regexp.MustCompile(`^[-*\s]*\*{0,2}([A-Za-z][A-Za-z _-]*?)\*{0,2}\s*:\s*(.+?)\s*$`)
	bulletRe   = regexp.MustCompile(`^\s*[-*]\s*(?:\[([ xX])\]\s*)?(.+?)\s*$`)
	slugStrip  = regexp.MustCompile(`[^a-z0-9]+`)
)

// classify parses one document into its tagged variant. The heuristics:
// the first level-one heading is the title; "Key: value" lines below it are
// metadata; a "Deliverables" section or a "Plan:" title marks a plan doc.
func classify(doc Doc) candidate {
	title, meta, sections := scan(doc.Content)
	if title == "" {
		return candidate{err: fmt.Errorf("no title heading")}
	}
	planDoc := strings.HasPrefix(strings.ToLower(title), "plan:")
	if _, ok := sections["deliverables"]; ok {
		planDoc = true
	}
	if planDoc {
		return mapPlanDoc(doc, title, meta, sections)
	}
	if _, hasStatus := meta["status"]; hasStatus {
		return mapProjectDoc(title, meta)
	}
	if _, hasPriority := meta["priority"]; hasPriority {
		return mapProjectDoc(title, meta)
	}
	return candidate{err: fmt.Errorf("no status or priority metadata under %q", title)}
}

// scan walks the document once, collecting the title, top-level key-value
// metadata and the bullet lines of each "## Section".
func scan(content string) (title string, meta map[string]string, sections map[string][]string) {
	meta = map[string]string{}
	sections = map[string][]string{}
	section := ""
	for _, line := range strings.Split(content, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil && title == "" {
			title = m[1]
			continue
		}
		if strings.HasPrefix(line, "## ") {
			section = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "## ")))
			continue
		}
		if section == "" {
			if m := keyValueRe.FindStringSubmatch(line); m != nil {
				key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(m[1]), " ", "_"))
				meta[key] = m[2]
				continue
			}
		}
		if section != "" && strings.TrimSpace(line) != "" {
			sections[section] = append(sections[section], line)
		}
	}
	return title, meta, sections
}

func mapProjectDoc(title string, meta map[string]string) candidate {
	p, err := projectFromMeta(title, meta)
	if err != nil {
		return candidate{err: err}
	}
	return candidate{kind: kindProjectDoc, project: p}
}

func mapPlanDoc(doc Doc, title string, meta map[string]string, sections map[string][]string) candidate {
	title = strings.TrimSpace(strings.TrimPrefix(title, "Plan:"))
	title = strings.TrimSpace(strings.TrimPrefix(title, "plan:"))
	p, err := projectFromMeta(title, meta)
	if err != nil {
		return candidate{err: err}
	}
	p.PlanPath = doc.Path
	var deliverables []domain.Deliverable
	names := map[string]bool{}
	for _, line := range sections["deliverables"] {
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[2]
		dType := domain.DeliverableTool
		if open := strings.LastIndex(name, "("); open > 0 && strings.HasSuffix(name, ")") {
			if t := strings.ToLower(strings.TrimSpace(name[open+1 : len(name)-1])); domain.ValidDeliverableType(t) {
				dType = t
				name = strings.TrimSpace(name[:open])
			}
		}
		if name == "" || names[name] {
			continue
		}
		names[name] = true
		status := domain.DeliverablePlanned
		if strings.EqualFold(m[1], "x") {
			status = domain.DeliverableCompleted
		}
		deliverables = append(deliverables, domain.Deliverable{Name: name, Type: dType, Status: status})
	}
	return candidate{kind: kindPlanDoc, project: p, deliverables: deliverables}
}

func projectFromMeta(title string, meta map[string]string) (domain.Project, error) {
	var p domain.Project
	p.Name = title
	p.ID = meta["id"]
	if p.ID == "" {
		p.ID = Slugify(title)
	}
	if p.ID == "" {
		return p, fmt.Errorf("title %q yields an empty id", title)
	}
	if v, ok := meta["status"]; ok {
		status, err := normalizeStatus(v)
		if err != nil {
			return p, err
		}
		p.Status = status
	}
	if v, ok := meta["priority"]; ok {
		prio := strings.ToLower(strings.TrimSpace(v))
		if !domain.ValidPriority(prio) {
			return p, fmt.Errorf("unknown priority %q", v)
		}
		p.Priority = prio
	}
	if v, ok := meta["category"]; ok {
		p.Category = strings.TrimSpace(v)
	}
	if v, ok := meta["impact"]; ok {
		impact := strings.ToLower(strings.TrimSpace(v))
		if !domain.ValidImpact(impact) {
			return p, fmt.Errorf("unknown impact %q", v)
		}
		p.Impact = impact
	}
	for _, key := range []string{"effort", "effort_hours", "estimate"} {
		if v, ok := meta[key]; ok {
			hours, err := parseHours(v)
			if err != nil {
				return p, err
			}
			p.EffortHours = &hours
			break
		}
	}
	if v, ok := meta["tags"]; ok {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.Tags = append(p.Tags, t)
			}
		}
		sort.Strings(p.Tags)
	}
	if v, ok := meta["description"]; ok {
		p.Description = strings.TrimSpace(v)
	}
	if v, ok := meta["notes"]; ok {
		p.Notes = strings.TrimSpace(v)
	}
	return p, nil
}

// normalizeStatus maps the status vocabulary found in legacy documents onto
// the canonical enum.
func normalizeStatus(v string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	switch s {
	case "planned", "todo", "to do", "pending", "backlog", "not started":
		return domain.StatusPlanned, nil
	case "active", "in progress", "started", "wip", "ongoing":
		return domain.StatusActive, nil
	case "blocked", "on hold", "waiting", "stalled":
		return domain.StatusBlocked, nil
	case "completed", "complete", "done", "finished", "shipped":
		return domain.StatusCompleted, nil
	case "archived", "abandoned", "cancelled", "canceled":
		return domain.StatusArchived, nil
	}
	return "", fmt.Errorf("unknown status %q", v)
}

func parseHours(v string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	s = strings.TrimSuffix(s, "hours")
	s = strings.TrimSuffix(s, "hrs")
	s = strings.TrimSuffix(s, "h")
	s = strings.TrimSpace(s)
	hours, err := strconv.ParseFloat(s, 64)
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("unparseable hours %q", v)
	}
	return hours, nil
}

// Slugify derives a project id from a document title.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
