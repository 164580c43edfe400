package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStaleReservationReport lists reservations left pending past their expiry.
	TaskStaleReservationReport = "reservations:stale_report"
	// TaskIdempotencyPurge removes idempotency records past retention.
	TaskIdempotencyPurge = "idempotency:purge"
)

// StaleReportPayload bounds one stale reservation scan.
type StaleReportPayload struct {
	Limit int `json:"limit"`
}

// NewStaleReportTask builds a stale reservation report task.
func NewStaleReportTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(StaleReportPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStaleReservationReport, body, asynq.Queue(QueueDefault)), nil
}

// PurgePayload carries the retention window in seconds. Zero uses the job default.
type PurgePayload struct {
	RetentionSeconds int64 `json:"retentionSeconds"`
}

// NewIdempotencyPurgeTask builds an idempotency purge task.
func NewIdempotencyPurgeTask(retentionSeconds int64) (*asynq.Task, error) {
	body, err := json.Marshal(PurgePayload{RetentionSeconds: retentionSeconds})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyPurge, body, asynq.Queue(QueueDefault)), nil
}

// NewTask builds a supported task by name with its default payload.
func NewTask(name string) (*asynq.Task, error) {
	switch name {
	case TaskStaleReservationReport:
		return NewStaleReportTask(0)
	case TaskIdempotencyPurge:
		return NewIdempotencyPurgeTask(0)
	}
	return nil, &UnsupportedTaskError{Name: name}
}

// UnsupportedTaskError reports an unknown task name.
type UnsupportedTaskError struct {
	Name string
}

func (e *UnsupportedTaskError) Error() string {
	return "jobs: unsupported task " + e.Name
}
