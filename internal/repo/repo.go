package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"regline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const projectColumns = `id,name,status,priority,category,tags,effort_hours,actual_hours,impact,plan_path,external_refs,description,notes,created_at,started_at,completed_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// queryer abstracts *sql.DB and *sql.Tx for reads that run either against
// the pool or inside a caller's transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var category, tags, impact, planPath, refs, description, notes, startedAt, completedAt sql.NullString
	var effort, actual sql.NullFloat64
	err := row.Scan(&p.ID, &p.Name, &p.Status, &p.Priority, &category, &tags, &effort, &actual,
		&impact, &planPath, &refs, &description, &notes, &p.CreatedAt, &startedAt, &completedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Category = category.String
	p.Impact = impact.String
	p.PlanPath = planPath.String
	p.Description = description.String
	p.Notes = notes.String
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &p.Tags)
	}
	if refs.Valid && refs.String != "" {
		_ = json.Unmarshal([]byte(refs.String), &p.ExternalRefs)
	}
	if effort.Valid {
		v := effort.Float64
		p.EffortHours = &v
	}
	if actual.Valid {
		v := actual.Float64
		p.ActualHours = &v
	}
	if startedAt.Valid {
		p.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.String
	}
	return p, nil
}

func projectArgs(p domain.Project) []any {
	return []any{
		p.ID, p.Name, p.Status, p.Priority, nullable(p.Category), jsonOrNil(p.Tags),
		nullableFloatPtr(p.EffortHours), nullableFloatPtr(p.ActualHours), nullable(p.Impact),
		nullable(p.PlanPath), jsonOrNil(p.ExternalRefs), nullable(p.Description), nullable(p.Notes),
		p.CreatedAt, nullableStringPtr(p.StartedAt), nullableStringPtr(p.CompletedAt), p.UpdatedAt,
	}
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		projectArgs(p)...)
	return err
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET name=?,status=?,priority=?,category=?,tags=?,effort_hours=?,actual_hours=?,impact=?,plan_path=?,external_refs=?,description=?,notes=?,started_at=?,completed_at=?,updated_at=? WHERE id=?`,
		p.Name, p.Status, p.Priority, nullable(p.Category), jsonOrNil(p.Tags),
		nullableFloatPtr(p.EffortHours), nullableFloatPtr(p.ActualHours), nullable(p.Impact),
		nullable(p.PlanPath), jsonOrNil(p.ExternalRefs), nullable(p.Description), nullable(p.Notes),
		nullableStringPtr(p.StartedAt), nullableStringPtr(p.CompletedAt), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) ProjectExists(ctx context.Context, id string) (bool, error) {
	return projectExists(ctx, r.DB, id)
}

func (r Repo) ProjectExistsTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	return projectExists(ctx, tx, id)
}

func projectExists(ctx context.Context, q queryer, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type ProjectFilters struct {
	Status   string
	Priority string
	Category string
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountProjectsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM projects GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) CountProjectsByPriority(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT priority, count(*) FROM projects GROUP BY priority`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var priority string
		var count int
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		res[priority] = count
	}
	return res, rows.Err()
}

// --- updates (audit trail) ---

func (r Repo) ListUpdates(ctx context.Context, projectID string) ([]domain.Update, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,ts,field,old_value,new_value,reason FROM project_updates WHERE project_id=? ORDER BY id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Update
	for rows.Next() {
		var u domain.Update
		var oldVal, newVal, reason sql.NullString
		if err := rows.Scan(&u.ID, &u.ProjectID, &u.TS, &u.Field, &oldVal, &newVal, &reason); err != nil {
			return nil, err
		}
		if oldVal.Valid {
			u.OldValue = &oldVal.String
		}
		if newVal.Valid {
			u.NewValue = &newVal.String
		}
		u.Reason = reason.String
		res = append(res, u)
	}
	return res, rows.Err()
}

// LastStatusBefore returns the status a project held before it last entered
// the given status, read from the audit trail.
func (r Repo) LastStatusBefore(ctx context.Context, tx *sql.Tx, projectID, entered string) (string, error) {
	var old sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT old_value FROM project_updates WHERE project_id=? AND field='status' AND new_value=? ORDER BY id DESC LIMIT 1`,
		projectID, entered).Scan(&old)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return old.String, nil
}

func (r Repo) DeleteUpdates(ctx context.Context, tx *sql.Tx, projectID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM project_updates WHERE project_id=?`, projectID)
	return err
}

// --- deliverables ---

func (r Repo) InsertDeliverable(ctx context.Context, tx *sql.Tx, d domain.Deliverable) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO deliverables(id,project_id,name,type,status,file_path,created_at,completed_at) VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.Name, d.Type, d.Status, nullable(d.FilePath), d.CreatedAt, nullableStringPtr(d.CompletedAt))
	return err
}

func (r Repo) UpdateDeliverable(ctx context.Context, tx *sql.Tx, d domain.Deliverable) error {
	res, err := tx.ExecContext(ctx, `UPDATE deliverables SET status=?, file_path=?, completed_at=? WHERE project_id=? AND name=?`,
		d.Status, nullable(d.FilePath), nullableStringPtr(d.CompletedAt), d.ProjectID, d.Name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetDeliverable(ctx context.Context, projectID, name string) (domain.Deliverable, error) {
	var d domain.Deliverable
	var filePath, completedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,type,status,file_path,created_at,completed_at FROM deliverables WHERE project_id=? AND name=?`, projectID, name).
		Scan(&d.ID, &d.ProjectID, &d.Name, &d.Type, &d.Status, &filePath, &d.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.FilePath = filePath.String
	if completedAt.Valid {
		d.CompletedAt = &completedAt.String
	}
	return d, nil
}

func (r Repo) ListDeliverables(ctx context.Context, projectID string) ([]domain.Deliverable, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,type,status,file_path,created_at,completed_at FROM deliverables WHERE project_id=? ORDER BY created_at ASC, name ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deliverable
	for rows.Next() {
		var d domain.Deliverable
		var filePath, completedAt sql.NullString
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Name, &d.Type, &d.Status, &filePath, &d.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		d.FilePath = filePath.String
		if completedAt.Valid {
			d.CompletedAt = &completedAt.String
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) DeleteDeliverables(ctx context.Context, tx *sql.Tx, projectID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM deliverables WHERE project_id=?`, projectID)
	return err
}

// --- dependencies ---

func (r Repo) InsertDependency(ctx context.Context, tx *sql.Tx, d domain.Dependency) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO dependencies(project_id,depends_on_id,type,created_at) VALUES (?,?,?,?)`,
		d.ProjectID, d.DependsOnID, d.Type, d.CreatedAt)
	return err
}

func (r Repo) DeleteDependency(ctx context.Context, tx *sql.Tx, projectID, dependsOnID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE project_id=? AND depends_on_id=?`, projectID, dependsOnID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) HasDependency(ctx context.Context, projectID, dependsOnID string) (bool, error) {
	return hasDependency(ctx, r.DB, projectID, dependsOnID)
}

func (r Repo) HasDependencyTx(ctx context.Context, tx *sql.Tx, projectID, dependsOnID string) (bool, error) {
	return hasDependency(ctx, tx, projectID, dependsOnID)
}

func hasDependency(ctx context.Context, q queryer, projectID, dependsOnID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM dependencies WHERE project_id=? AND depends_on_id=?`, projectID, dependsOnID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) ListDependencies(ctx context.Context, projectID string) ([]domain.Dependency, error) {
	return r.listDeps(ctx, `SELECT project_id,depends_on_id,type,created_at FROM dependencies WHERE project_id=? ORDER BY depends_on_id ASC`, projectID)
}

// ListDependents returns edges pointing at projectID (incoming edges).
func (r Repo) ListDependents(ctx context.Context, projectID string) ([]domain.Dependency, error) {
	return r.listDeps(ctx, `SELECT project_id,depends_on_id,type,created_at FROM dependencies WHERE depends_on_id=? ORDER BY project_id ASC`, projectID)
}

func (r Repo) ListAllDependencies(ctx context.Context) ([]domain.Dependency, error) {
	return r.listDeps(ctx, `SELECT project_id,depends_on_id,type,created_at FROM dependencies ORDER BY project_id ASC, depends_on_id ASC`)
}

// ListAllDependenciesTx reads the full edge set inside the caller's write
// transaction, so cycle checks see every committed edge and block concurrent
// writers until the caller commits.
func (r Repo) ListAllDependenciesTx(ctx context.Context, tx *sql.Tx) ([]domain.Dependency, error) {
	return listDeps(ctx, tx, `SELECT project_id,depends_on_id,type,created_at FROM dependencies ORDER BY project_id ASC, depends_on_id ASC`)
}

func (r Repo) listDeps(ctx context.Context, query string, args ...any) ([]domain.Dependency, error) {
	return listDeps(ctx, r.DB, query, args...)
}

func listDeps(ctx context.Context, q queryer, query string, args ...any) ([]domain.Dependency, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		if err := rows.Scan(&d.ProjectID, &d.DependsOnID, &d.Type, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// DeleteEdges removes every dependency edge touching the project.
func (r Repo) DeleteEdges(ctx context.Context, tx *sql.Tx, projectID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE project_id=?`, projectID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE depends_on_id=?`, projectID)
	return err
}

func (r Repo) CountDependents(ctx context.Context, tx *sql.Tx, projectID string) (int, []string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT project_id FROM dependencies WHERE depends_on_id=? ORDER BY project_id ASC`, projectID)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, nil, err
		}
		ids = append(ids, id)
	}
	return len(ids), ids, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func jsonOrNil(items []string) any {
	if len(items) == 0 {
		return nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	return string(b)
}

// FormatValue renders a field value for audit rows.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case float64:
		return fmt.Sprintf("%g", t)
	case *float64:
		if t == nil {
			return ""
		}
		return fmt.Sprintf("%g", *t)
	case []string:
		return strings.Join(t, ",")
	default:
		return fmt.Sprint(v)
	}
}
