package timesheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hourledger/hourledger/internal/ledger"
	"github.com/hourledger/hourledger/internal/platform/db"
	"github.com/hourledger/hourledger/internal/shared"
)

// Repository encapsulates DB operations for ledgers, tasks and entries.
type Repository interface {
	GetLedger(ctx context.Context, id string) (ledger.Ledger, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations available inside one transaction.
type TxRepository interface {
	GetLedger(ctx context.Context, id string) (ledger.Ledger, error)
	// UpdateLedger writes l only if the stored version still equals expected.
	UpdateLedger(ctx context.Context, l ledger.Ledger, expected int64) error
	GetTask(ctx context.Context, id string) (Task, error)
	UpdateTask(ctx context.Context, t Task, expected int64) error
	// AppendTaskTime atomically adds ref.Minutes to the task total and appends ref.
	AppendTaskTime(ctx context.Context, taskID string, ref TimeEntryRef) (Task, error)
	InsertEntry(ctx context.Context, e Entry) error
	GetEntry(ctx context.Context, id string) (Entry, error)
	UpdateEntry(ctx context.Context, e Entry) error
	CancelPendingApprovals(ctx context.Context, taskID string) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) GetLedger(ctx context.Context, id string) (ledger.Ledger, error) {
	return getLedger(ctx, r.pool, id)
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getLedger(ctx context.Context, q querier, id string) (ledger.Ledger, error) {
	var (
		l        ledger.Ledger
		services []byte
	)
	err := q.QueryRow(ctx, `SELECT id, name, services, version, last_modified, modified_by FROM ledgers WHERE id=$1`, id).
		Scan(&l.ID, &l.Name, &services, &l.Version, &l.LastModified, &l.ModifiedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Ledger{}, shared.NotFound("ledger", id)
		}
		return ledger.Ledger{}, err
	}
	if err := json.Unmarshal(services, &l.Services); err != nil {
		return ledger.Ledger{}, fmt.Errorf("timesheet: decode ledger %s services: %w", id, err)
	}
	return l, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetLedger(ctx context.Context, id string) (ledger.Ledger, error) {
	return getLedger(ctx, r.tx, id)
}

func (r *txRepository) UpdateLedger(ctx context.Context, l ledger.Ledger, expected int64) error {
	services, err := json.Marshal(l.Services)
	if err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE ledgers SET services=$2, version=$3, last_modified=$4, modified_by=$5 WHERE id=$1 AND version=$6`,
		l.ID, services, l.Version, l.LastModified, l.ModifiedBy, expected)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: ledger %s moved past version %d", shared.ErrConflict, l.ID, expected)
	}
	return nil
}

const taskColumns = `id, ledger_id, service_id, stage_id, title, assigned_to, estimated_minutes, actual_minutes, status, time_entries, completion, cancellation, version`

func scanTask(row pgx.Row) (Task, error) {
	var (
		t                              Task
		entries, completion, cancelled []byte
	)
	if err := row.Scan(&t.ID, &t.LedgerID, &t.ServiceID, &t.StageID, &t.Title, &t.AssignedTo, &t.EstimatedMinutes,
		&t.ActualMinutes, &t.Status, &entries, &completion, &cancelled, &t.Version); err != nil {
		return Task{}, err
	}
	if len(entries) > 0 {
		if err := json.Unmarshal(entries, &t.TimeEntries); err != nil {
			return Task{}, err
		}
	}
	if len(completion) > 0 {
		t.Completion = &Completion{}
		if err := json.Unmarshal(completion, t.Completion); err != nil {
			return Task{}, err
		}
	}
	if len(cancelled) > 0 {
		t.Cancellation = &Cancellation{}
		if err := json.Unmarshal(cancelled, t.Cancellation); err != nil {
			return Task{}, err
		}
	}
	return t, nil
}

func (r *txRepository) GetTask(ctx context.Context, id string) (Task, error) {
	t, err := scanTask(r.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, shared.NotFound("task", id)
	}
	return t, err
}

func (r *txRepository) UpdateTask(ctx context.Context, t Task, expected int64) error {
	completion, err := encodeNullable(t.Completion)
	if err != nil {
		return err
	}
	cancellation, err := encodeNullable(t.Cancellation)
	if err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE tasks SET status=$2, completion=$3, cancellation=$4, version=$5, updated_at=NOW() WHERE id=$1 AND version=$6`,
		t.ID, t.Status, completion, cancellation, t.Version, expected)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s moved past version %d", shared.ErrConflict, t.ID, expected)
	}
	return nil
}

func (r *txRepository) AppendTaskTime(ctx context.Context, taskID string, ref TimeEntryRef) (Task, error) {
	raw, err := json.Marshal([]TimeEntryRef{ref})
	if err != nil {
		return Task{}, err
	}
	t, err := scanTask(r.tx.QueryRow(ctx, `UPDATE tasks
SET actual_minutes = actual_minutes + $2, time_entries = time_entries || $3::jsonb, version = version + 1, updated_at = NOW()
WHERE id=$1 RETURNING `+taskColumns, taskID, ref.Minutes, raw))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, shared.NotFound("task", taskID)
	}
	return t, err
}

func (r *txRepository) InsertEntry(ctx context.Context, e Entry) error {
	edits, err := json.Marshal(orEmptyEdits(e.Edits))
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO timesheet_entries
(id, task_id, ledger_id, service_id, stage_id, package_id, employee, minutes, hours, entry_date, description, is_internal, reservation_id, idempotency_key, edits, created_at)
VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), $7, $8, $9::numeric, $10, $11, $12, NULLIF($13,''), NULLIF($14,''), $15, $16)`,
		e.ID, e.TaskID, e.LedgerID, e.ServiceID, e.StageID, e.PackageID, e.Employee, e.Minutes, e.Hours.String(),
		e.Date, e.Description, e.IsInternal, e.ReservationID, e.IdempotencyKey, edits, e.CreatedAt)
	return err
}

func (r *txRepository) GetEntry(ctx context.Context, id string) (Entry, error) {
	var (
		e     Entry
		hours string
		edits []byte
	)
	err := r.tx.QueryRow(ctx, `SELECT id, COALESCE(task_id,''), COALESCE(ledger_id,''), COALESCE(service_id,''), COALESCE(stage_id,''),
COALESCE(package_id,''), employee, minutes, hours::text, entry_date, description, is_internal, COALESCE(reservation_id,''),
COALESCE(idempotency_key,''), edits, created_at FROM timesheet_entries WHERE id=$1 FOR UPDATE`, id).
		Scan(&e.ID, &e.TaskID, &e.LedgerID, &e.ServiceID, &e.StageID, &e.PackageID, &e.Employee, &e.Minutes, &hours,
			&e.Date, &e.Description, &e.IsInternal, &e.ReservationID, &e.IdempotencyKey, &edits, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.NotFound("timesheet entry", id)
		}
		return Entry{}, err
	}
	if e.Hours, err = decimal.NewFromString(hours); err != nil {
		return Entry{}, err
	}
	if len(edits) > 0 {
		if err := json.Unmarshal(edits, &e.Edits); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}

func (r *txRepository) UpdateEntry(ctx context.Context, e Entry) error {
	edits, err := json.Marshal(orEmptyEdits(e.Edits))
	if err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE timesheet_entries SET description=$2, entry_date=$3, edits=$4 WHERE id=$1`,
		e.ID, e.Description, e.Date, edits)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFound("timesheet entry", e.ID)
	}
	return nil
}

func (r *txRepository) CancelPendingApprovals(ctx context.Context, taskID string) (int64, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE task_approvals SET status='task_cancelled', updated_at=NOW() WHERE task_id=$1 AND status='pending'`, taskID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func encodeNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func orEmptyEdits(edits []EditRecord) []EditRecord {
	if edits == nil {
		return []EditRecord{}
	}
	return edits
}

// dateOnly truncates t to its UTC calendar day.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
