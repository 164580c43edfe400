package deletion

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"
)

// memoryRepo keeps records per category and applies a chunk only when its
// transaction body succeeds.
type memoryRepo struct {
	mu          sync.Mutex
	records     map[Category]map[string]Item
	audits      []AuditEntry
	loads       map[Category]int
	txs         int
	failDeletes int
	failAudit   bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		records: map[Category]map[string]Item{
			CategoryTasks:      {},
			CategoryTimesheets: {},
			CategoryApprovals:  {},
		},
		loads: map[Category]int{},
	}
}

func (m *memoryRepo) put(category Category, id, owner string) {
	m.putItem(Item{ID: id, Category: category, Owner: owner})
}

func (m *memoryRepo) putApproval(id, taskID, requestedBy string) {
	m.putItem(Item{ID: id, Category: CategoryApprovals, Owner: requestedBy, TaskID: taskID, Status: "pending"})
}

func (m *memoryRepo) putItem(it Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[it.Category][it.ID] = it
}

func (m *memoryRepo) has(category Category, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[category][id]
	return ok
}

func (m *memoryRepo) count(category Category) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[category])
}

func (m *memoryRepo) auditLog() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.audits)
}

func (m *memoryRepo) Load(ctx context.Context, category Category, ids []string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads[category]++
	var out []Item
	for _, id := range ids {
		if it, ok := m.records[category][id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memoryRepo) ApprovalsForTasks(ctx context.Context, taskIDs []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, it := range m.records[CategoryApprovals] {
		if slices.Contains(taskIDs, it.TaskID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs++
	tx := &memoryTx{repo: m, deleted: map[Category][]string{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if m.failDeletes > 0 {
		m.failDeletes--
		return errors.New("injected commit failure")
	}
	for category, ids := range tx.deleted {
		for _, id := range ids {
			delete(m.records[category], id)
		}
	}
	return nil
}

func (m *memoryRepo) Activity(ctx context.Context, actorID string, since time.Time) (Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var a Activity
	for _, e := range m.audits {
		if e.ActorID != actorID || e.DryRun || !e.Success || !e.OccurredAt.After(since) {
			continue
		}
		at := e.OccurredAt
		a.Deletions++
		a.Records += e.Counts.Deleted + e.Counts.Cascaded
		if a.First == nil || at.Before(*a.First) {
			a.First = &at
		}
		if a.Last == nil || at.After(*a.Last) {
			a.Last = &at
		}
	}
	return a, nil
}

func (m *memoryRepo) InsertAudit(ctx context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAudit {
		return errors.New("audit store unavailable")
	}
	m.audits = append(m.audits, entry)
	return nil
}

type memoryTx struct {
	repo    *memoryRepo
	deleted map[Category][]string
}

func (t *memoryTx) Delete(ctx context.Context, category Category, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		if _, ok := t.repo.records[category][id]; ok && !slices.Contains(t.deleted[category], id) {
			t.deleted[category] = append(t.deleted[category], id)
			n++
		}
	}
	return n, nil
}

type countingMetrics struct {
	mu           sync.Mutex
	outcomes     map[string]int
	deleted      map[string]int
	suspicious   int
	auditFailure int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: map[string]int{}, deleted: map[string]int{}}
}

func (c *countingMetrics) DeletionRequest(outcome string, dryRun bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dryRun {
		outcome += "/dry_run"
	}
	c.outcomes[outcome]++
}

func (c *countingMetrics) RecordsDeleted(category string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted[category] += n
}

func (c *countingMetrics) SuspiciousDeletion() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspicious++
}

func (c *countingMetrics) AuditWriteFailed(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auditFailure++
}
