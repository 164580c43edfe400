package timesheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hourledger/hourledger/internal/events"
	"github.com/hourledger/hourledger/internal/ledger"
	"github.com/hourledger/hourledger/internal/reservation"
	"github.com/hourledger/hourledger/internal/shared"
)

// memoryRepo runs each transaction against a snapshot and buffers writes until commit,
// so a failed body leaves no trace. Commit rejects ledgers and tasks whose version moved
// since the snapshot. By default transactions are serialized; optimistic lets bodies run
// concurrently and beforeCommit runs between body and commit. failCommits makes the next
// n commits fail with a store conflict.
type memoryRepo struct {
	mu           sync.Mutex
	ledgers      map[string]ledger.Ledger
	tasks        map[string]Task
	entries      map[string]Entry
	approvals    map[string]string // approval id -> status
	approvalFor  map[string]string // approval id -> task id
	failCommits  int
	commits      int
	optimistic   bool
	beforeCommit func()
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		ledgers:     map[string]ledger.Ledger{},
		tasks:       map[string]Task{},
		entries:     map[string]Entry{},
		approvals:   map[string]string{},
		approvalFor: map[string]string{},
	}
}

func (m *memoryRepo) putLedger(l ledger.Ledger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[l.ID] = cloneLedger(l)
}

func (m *memoryRepo) putTask(t Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
}

func (m *memoryRepo) putApproval(id, taskID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[id] = status
	m.approvalFor[id] = taskID
}

func (m *memoryRepo) ledger(id string) ledger.Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneLedger(m.ledgers[id])
}

func (m *memoryRepo) task(id string) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

func (m *memoryRepo) entryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memoryRepo) GetLedger(ctx context.Context, id string) (ledger.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[id]
	if !ok {
		return ledger.Ledger{}, shared.NotFound("ledger", id)
	}
	return cloneLedger(l), nil
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if !m.optimistic {
		m.mu.Lock()
		defer m.mu.Unlock()
		tx := m.snapshot()
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return m.commit(tx)
	}

	m.mu.Lock()
	tx := m.snapshot()
	m.mu.Unlock()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if m.beforeCommit != nil {
		m.beforeCommit()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commit(tx)
}

// snapshot must be called with mu held.
func (m *memoryRepo) snapshot() *memoryTx {
	tx := &memoryTx{
		baseLedgers:   make(map[string]ledger.Ledger, len(m.ledgers)),
		baseTasks:     make(map[string]Task, len(m.tasks)),
		baseEntries:   make(map[string]Entry, len(m.entries)),
		baseApprovals: make(map[string]string, len(m.approvals)),
		approvalFor:   make(map[string]string, len(m.approvalFor)),
		ledgers:       map[string]ledger.Ledger{},
		tasks:         map[string]Task{},
		entries:       map[string]Entry{},
		approvals:     map[string]string{},
	}
	for id, l := range m.ledgers {
		tx.baseLedgers[id] = cloneLedger(l)
	}
	for id, t := range m.tasks {
		t.TimeEntries = append([]TimeEntryRef(nil), t.TimeEntries...)
		tx.baseTasks[id] = t
	}
	for id, e := range m.entries {
		tx.baseEntries[id] = e
	}
	for id, st := range m.approvals {
		tx.baseApprovals[id] = st
	}
	for id, task := range m.approvalFor {
		tx.approvalFor[id] = task
	}
	return tx
}

// commit must be called with mu held.
func (m *memoryRepo) commit(tx *memoryTx) error {
	if m.failCommits > 0 {
		m.failCommits--
		return fmt.Errorf("%w: injected", shared.ErrConflict)
	}
	for id := range tx.ledgers {
		if m.ledgers[id].Version != tx.baseLedgers[id].Version {
			return fmt.Errorf("%w: ledger %s", shared.ErrConflict, id)
		}
	}
	for id := range tx.tasks {
		if m.tasks[id].Version != tx.baseTasks[id].Version {
			return fmt.Errorf("%w: task %s", shared.ErrConflict, id)
		}
	}
	for id := range tx.entries {
		if _, existed := tx.baseEntries[id]; existed {
			continue
		}
		if _, ok := m.entries[id]; ok {
			return errors.New("duplicate entry id")
		}
	}
	for id, l := range tx.ledgers {
		m.ledgers[id] = l
	}
	for id, t := range tx.tasks {
		m.tasks[id] = t
	}
	for id, e := range tx.entries {
		m.entries[id] = e
	}
	for id, st := range tx.approvals {
		m.approvals[id] = st
	}
	m.commits++
	return nil
}

type memoryTx struct {
	baseLedgers   map[string]ledger.Ledger
	baseTasks     map[string]Task
	baseEntries   map[string]Entry
	baseApprovals map[string]string
	approvalFor   map[string]string

	ledgers   map[string]ledger.Ledger
	tasks     map[string]Task
	entries   map[string]Entry
	approvals map[string]string
}

func (t *memoryTx) GetLedger(ctx context.Context, id string) (ledger.Ledger, error) {
	if l, ok := t.ledgers[id]; ok {
		return cloneLedger(l), nil
	}
	l, ok := t.baseLedgers[id]
	if !ok {
		return ledger.Ledger{}, shared.NotFound("ledger", id)
	}
	return cloneLedger(l), nil
}

func (t *memoryTx) UpdateLedger(ctx context.Context, l ledger.Ledger, expected int64) error {
	current, err := t.GetLedger(ctx, l.ID)
	if err != nil {
		return err
	}
	if current.Version != expected {
		return fmt.Errorf("%w: ledger %s", shared.ErrConflict, l.ID)
	}
	t.ledgers[l.ID] = cloneLedger(l)
	return nil
}

func (t *memoryTx) GetTask(ctx context.Context, id string) (Task, error) {
	if task, ok := t.tasks[id]; ok {
		return task, nil
	}
	task, ok := t.baseTasks[id]
	if !ok {
		return Task{}, shared.NotFound("task", id)
	}
	task.TimeEntries = append([]TimeEntryRef(nil), task.TimeEntries...)
	return task, nil
}

func (t *memoryTx) UpdateTask(ctx context.Context, task Task, expected int64) error {
	current, err := t.GetTask(ctx, task.ID)
	if err != nil {
		return err
	}
	if current.Version != expected {
		return fmt.Errorf("%w: task %s", shared.ErrConflict, task.ID)
	}
	t.tasks[task.ID] = task
	return nil
}

func (t *memoryTx) AppendTaskTime(ctx context.Context, taskID string, ref TimeEntryRef) (Task, error) {
	task, err := t.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	task.ActualMinutes += ref.Minutes
	task.TimeEntries = append(task.TimeEntries, ref)
	task.Version++
	t.tasks[taskID] = task
	return task, nil
}

func (t *memoryTx) InsertEntry(ctx context.Context, e Entry) error {
	if _, ok := t.baseEntries[e.ID]; ok {
		return errors.New("duplicate entry id")
	}
	t.entries[e.ID] = e
	return nil
}

func (t *memoryTx) GetEntry(ctx context.Context, id string) (Entry, error) {
	if e, ok := t.entries[id]; ok {
		return e, nil
	}
	e, ok := t.baseEntries[id]
	if !ok {
		return Entry{}, shared.NotFound("timesheet entry", id)
	}
	return e, nil
}

func (t *memoryTx) UpdateEntry(ctx context.Context, e Entry) error {
	if _, err := t.GetEntry(ctx, e.ID); err != nil {
		return err
	}
	t.entries[e.ID] = e
	return nil
}

func (t *memoryTx) CancelPendingApprovals(ctx context.Context, taskID string) (int64, error) {
	var n int64
	for id, status := range t.baseApprovals {
		if t.approvalFor[id] == taskID && status == "pending" {
			t.approvals[id] = "task_cancelled"
			n++
		}
	}
	return n, nil
}

func cloneLedger(l ledger.Ledger) ledger.Ledger {
	raw, err := json.Marshal(l)
	if err != nil {
		panic(err)
	}
	var out ledger.Ledger
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return out
}

type fakeReservations struct {
	mu       sync.Mutex
	statuses map[string]reservation.Status
	order    []string
}

func newFakeReservations() *fakeReservations {
	return &fakeReservations{statuses: map[string]reservation.Status{}}
}

func (f *fakeReservations) Create(ctx context.Context, intent reservation.Intent) (reservation.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "rsv_" + uuid.NewString()
	f.statuses[id] = reservation.StatusPending
	f.order = append(f.order, id)
	return reservation.Reservation{ID: id, Operations: intent.Operations, Status: reservation.StatusPending, PerformedBy: intent.PerformedBy}, nil
}

func (f *fakeReservations) Commit(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.resolve(id, reservation.StatusCommitted)
}

func (f *fakeReservations) Rollback(ctx context.Context, id string, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.resolve(id, reservation.StatusRolledBack)
}

func (f *fakeReservations) resolve(id string, status reservation.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses[id] != reservation.StatusPending {
		return reservation.ErrNotPending
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeReservations) count(status reservation.Status) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.statuses {
		if s == status {
			n++
		}
	}
	return n
}

type fakeEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeEvents) Record(ctx context.Context, e events.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return true
}

func (f *fakeEvents) ofType(t events.Type) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	logs    []shared.AuditLog
	failing bool
}

func (f *fakeAudit) Record(ctx context.Context, log shared.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("audit store unavailable")
	}
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.logs))
	for _, l := range f.logs {
		out = append(out, l.Action)
	}
	return out
}

type fakeRegistry struct {
	mu      sync.Mutex
	records map[string][]byte
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{records: map[string][]byte{}}
}

func (f *fakeRegistry) Check(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.records[key]
	return raw, ok, nil
}

func (f *fakeRegistry) Register(ctx context.Context, key string, result []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.records[key]; ok {
		if !shared.SameResult(existing, result) {
			return shared.ErrIdempotencyConflict
		}
		return nil
	}
	f.records[key] = result
	return nil
}

func (m *memoryRepo) entry(id string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

func (m *memoryRepo) approval(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approvals[id]
}
