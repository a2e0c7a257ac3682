package domain

// Project statuses.
const (
	StatusPlanned   = "planned"
	StatusActive    = "active"
	StatusBlocked   = "blocked"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

// Priorities, highest first.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Dependency edge types.
const (
	DepBlocks   = "blocks"
	DepOptional = "optional"
	DepEnhances = "enhances"
)

// Deliverable types.
const (
	DeliverableTool           = "tool"
	DeliverableAgent          = "agent"
	DeliverableDocumentation  = "documentation"
	DeliverableInfrastructure = "infrastructure"
	DeliverableDatabase       = "database"
	DeliverableWorkflow       = "workflow"
)

// Deliverable statuses.
const (
	DeliverablePlanned    = "planned"
	DeliverableInProgress = "in_progress"
	DeliverableCompleted  = "completed"
)

type Project struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Status       string   `json:"status" enum:"planned,active,blocked,completed,archived"`
	Priority     string   `json:"priority" enum:"critical,high,medium,low"`
	Category     string   `json:"category,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	EffortHours  *float64 `json:"effort_hours,omitempty"`
	ActualHours  *float64 `json:"actual_hours,omitempty"`
	Impact       string   `json:"impact,omitempty" enum:"high,medium,low"`
	PlanPath     string   `json:"plan_path,omitempty"`
	ExternalRefs []string `json:"external_refs,omitempty"`
	Description  string   `json:"description,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	StartedAt    *string  `json:"started_at,omitempty" format:"date-time"`
	CompletedAt  *string  `json:"completed_at,omitempty" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

// Update is one append-only audit record for a single field change.
type Update struct {
	ID        int64   `json:"id"`
	ProjectID string  `json:"project_id"`
	TS        string  `json:"ts" format:"date-time"`
	Field     string  `json:"field"`
	OldValue  *string `json:"old_value,omitempty"`
	NewValue  *string `json:"new_value,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

type Deliverable struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Name        string  `json:"name"`
	Type        string  `json:"type" enum:"tool,agent,documentation,infrastructure,database,workflow"`
	Status      string  `json:"status" enum:"planned,in_progress,completed"`
	FilePath    string  `json:"file_path,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// Dependency is a directed edge: ProjectID depends on DependsOnID.
type Dependency struct {
	ProjectID   string `json:"project_id"`
	DependsOnID string `json:"depends_on_id"`
	Type        string `json:"type" enum:"blocks,optional,enhances"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

var projectStatuses = map[string]bool{
	StatusPlanned: true, StatusActive: true, StatusBlocked: true,
	StatusCompleted: true, StatusArchived: true,
}

var priorities = map[string]bool{
	PriorityCritical: true, PriorityHigh: true, PriorityMedium: true, PriorityLow: true,
}

var impacts = map[string]bool{"high": true, "medium": true, "low": true}

var deliverableTypes = map[string]bool{
	DeliverableTool: true, DeliverableAgent: true, DeliverableDocumentation: true,
	DeliverableInfrastructure: true, DeliverableDatabase: true, DeliverableWorkflow: true,
}

var deliverableStatuses = map[string]bool{
	DeliverablePlanned: true, DeliverableInProgress: true, DeliverableCompleted: true,
}

var dependencyTypes = map[string]bool{DepBlocks: true, DepOptional: true, DepEnhances: true}

func ValidStatus(s string) bool            { return projectStatuses[s] }
func ValidPriority(s string) bool          { return priorities[s] }
func ValidImpact(s string) bool            { return impacts[s] }
func ValidDeliverableType(s string) bool   { return deliverableTypes[s] }
func ValidDeliverableStatus(s string) bool { return deliverableStatuses[s] }
func ValidDependencyType(s string) bool    { return dependencyTypes[s] }

// PriorityRank orders priorities for display, 0 highest.
func PriorityRank(p string) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}
