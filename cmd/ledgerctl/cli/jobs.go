package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/hourledger/hourledger/internal/app"
	"github.com/hourledger/hourledger/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis connection.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name with its default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.Enqueue(ctx, name, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue" yaml:"queue"`
	Pending   int    `json:"pending" yaml:"pending"`
	Active    int    `json:"active" yaml:"active"`
	Scheduled int    `json:"scheduled" yaml:"scheduled"`
	Retry     int    `json:"retry" yaml:"retry"`
	Archived  int    `json:"archived" yaml:"archived"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ScheduledTask is one upcoming task in the default queue.
type ScheduledTask struct {
	ID     string    `json:"id" yaml:"id"`
	Type   string    `json:"type" yaml:"type"`
	NextAt time.Time `json:"nextProcessAt" yaml:"nextProcessAt"`
}

// ListScheduled returns scheduled tasks for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]ScheduledTask, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	infos, err := c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
	if err != nil {
		return nil, err
	}
	out := make([]ScheduledTask, 0, len(infos))
	for _, info := range infos {
		out = append(out, ScheduledTask{ID: info.ID, Type: info.Type, NextAt: info.NextProcessAt})
	}
	return out, nil
}

// openJobs builds a JobsCLI from the environment.
var openJobs = func() (*JobsCLI, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewJobsCLI(cfg.Queue()), nil
}

type triggered struct {
	ID    string `json:"id" yaml:"id"`
	Type  string `json:"type" yaml:"type"`
	Queue string `json:"queue" yaml:"queue"`
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Trigger and inspect background jobs",
}

var jobsTriggerCmd = &cobra.Command{
	Use:   "trigger <task>",
	Short: "Enqueue a job now",
	Long: fmt.Sprintf(`Enqueue a job with its default payload. Supported tasks:
  %s
  %s`, jobs.TaskStaleReservationReport, jobs.TaskIdempotencyPurge),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := openJobs()
		if err != nil {
			return err
		}
		defer cli.Close()

		info, err := cli.Trigger(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("trigger %s: %w", args[0], err)
		}
		res := triggered{ID: info.ID, Type: info.Type, Queue: info.Queue}
		return render(cmd, res, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "enqueued %s as %s on %s\n", res.Type, res.ID, res.Queue)
			return err
		})
	},
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth and upcoming tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := openJobs()
		if err != nil {
			return err
		}
		defer cli.Close()

		ctx := cmd.Context()
		stats, err := cli.InspectQueue(ctx)
		if err != nil {
			return fmt.Errorf("inspect queue: %w", err)
		}
		limit, _ := cmd.Flags().GetInt("scheduled")
		var scheduled []ScheduledTask
		if limit > 0 {
			if scheduled, err = cli.ListScheduled(ctx, limit); err != nil {
				return fmt.Errorf("list scheduled: %w", err)
			}
		}
		report := struct {
			QueueStats `yaml:",inline"`
			Upcoming   []ScheduledTask `json:"upcoming,omitempty" yaml:"upcoming,omitempty"`
		}{stats, scheduled}
		return render(cmd, report, func(w io.Writer) error {
			fmt.Fprintf(w, "%-10s %8s %8s %10s %8s %9s\n", "QUEUE", "PENDING", "ACTIVE", "SCHEDULED", "RETRY", "ARCHIVED")
			fmt.Fprintf(w, "%-10s %8d %8d %10d %8d %9d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
			for _, t := range scheduled {
				fmt.Fprintf(w, "  %s %-28s %s\n", t.NextAt.UTC().Format(time.RFC3339), t.Type, t.ID)
			}
			return nil
		})
	},
}

func init() {
	jobsStatsCmd.Flags().Int("scheduled", 5, "number of scheduled tasks to list (0 to skip)")

	jobsCmd.AddCommand(jobsTriggerCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
}
