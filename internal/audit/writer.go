package audit

import (
	"context"
	"database/sql"
	"time"
)

// Writer appends project_updates rows inside the caller's transaction.
// Rows are append-only; nothing in the registry ever mutates them.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, projectID, field string, oldValue, newValue *string, reason string) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO project_updates(project_id,ts,field,old_value,new_value,reason) VALUES (?,?,?,?,?,?)`,
		projectID, ts, field, nullablePtr(oldValue), nullablePtr(newValue), nullable(reason))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// Value adapts a plain string to the nullable pointer Append takes.
func Value(s string) *string {
	return &s
}
