package deletion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hourledger/hourledger/internal/platform/db"
)

// Repository encapsulates deletion storage.
type Repository interface {
	// Load returns the stored records among ids. Missing ids are omitted.
	Load(ctx context.Context, category Category, ids []string) ([]Item, error)
	// ApprovalsForTasks returns ids of approvals referencing any of taskIDs.
	ApprovalsForTasks(ctx context.Context, taskIDs []string) ([]string, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// Activity summarizes the actor's successful real deletions after since.
	Activity(ctx context.Context, actorID string, since time.Time) (Activity, error)
	InsertAudit(ctx context.Context, entry AuditEntry) error
}

// TxRepository removes records inside one transaction.
type TxRepository interface {
	Delete(ctx context.Context, category Category, ids []string) (int, error)
}

var tables = map[Category]string{
	CategoryTasks:      "tasks",
	CategoryTimesheets: "timesheet_entries",
	CategoryApprovals:  "task_approvals",
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Load(ctx context.Context, category Category, ids []string) ([]Item, error) {
	var query string
	switch category {
	case CategoryTasks:
		query = `SELECT id, assigned_to, title, status, '' AS task_id, actual_minutes, NULL::timestamptz FROM tasks WHERE id = ANY($1)`
	case CategoryTimesheets:
		query = `SELECT id, employee, description, '' AS status, COALESCE(task_id, ''), minutes, entry_date::timestamptz FROM timesheet_entries WHERE id = ANY($1)`
	case CategoryApprovals:
		query = `SELECT id, requested_by, '' AS label, status, task_id, 0, NULL::timestamptz FROM task_approvals WHERE id = ANY($1)`
	default:
		return nil, fmt.Errorf("deletion: unknown category %q", category)
	}
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("deletion: load %s: %w", category, err)
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it := Item{Category: category}
		if err := rows.Scan(&it.ID, &it.Owner, &it.Label, &it.Status, &it.TaskID, &it.Minutes, &it.Date); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) ApprovalsForTasks(ctx context.Context, taskIDs []string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM task_approvals WHERE task_id = ANY($1) ORDER BY id`, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("deletion: approvals for tasks: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) Activity(ctx context.Context, actorID string, since time.Time) (Activity, error) {
	var a Activity
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(deleted_count + cascaded_count), 0), MIN(occurred_at), MAX(occurred_at)
FROM deletion_audit
WHERE actor_id=$1 AND dry_run=FALSE AND success=TRUE AND occurred_at > $2`, actorID, since).
		Scan(&a.Deletions, &a.Records, &a.First, &a.Last)
	if err != nil {
		return Activity{}, fmt.Errorf("deletion: activity: %w", err)
	}
	return a, nil
}

func (r *repository) InsertAudit(ctx context.Context, e AuditEntry) error {
	requested, err := json.Marshal(e.Requested)
	if err != nil {
		return err
	}
	var failure []byte
	if e.Error != nil {
		if failure, err = json.Marshal(e.Error); err != nil {
			return err
		}
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO deletion_audit
(actor_id, target_owner, requested, requested_count, verified_count, deleted_count, cascaded_count, dry_run, success, suspicious, error, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ActorID, e.TargetOwner, requested, e.Counts.Requested, e.Counts.Verified, e.Counts.Deleted, e.Counts.Cascaded,
		e.DryRun, e.Success, e.Suspicious, failure, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("deletion: insert audit: %w", err)
	}
	return nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Delete(ctx context.Context, category Category, ids []string) (int, error) {
	table, ok := tables[category]
	if !ok {
		return 0, fmt.Errorf("deletion: unknown category %q", category)
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM `+table+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("deletion: delete %s: %w", category, err)
	}
	return int(tag.RowsAffected()), nil
}
