package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hourledger/hourledger/internal/app"
	"github.com/hourledger/hourledger/internal/platform/db"
	"github.com/hourledger/hourledger/internal/sequence"
)

// SequenceIssuer is the part of sequence.Generator the CLI drives.
type SequenceIssuer interface {
	Next(ctx context.Context, scope string) (string, error)
	NextCaseNumber(ctx context.Context) (string, error)
	Stats(ctx context.Context, scope string) (sequence.Stats, error)
}

// openSequence connects to Postgres and returns a generator plus its release func.
var openSequence = func(ctx context.Context) (SequenceIssuer, func(), error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.Pool())
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.LogLevel == "debug" {
		logger = app.NewLogger(cfg)
	}
	gen := sequence.NewGenerator(sequence.NewRepository(pool), cfg.Sequence(), logger, nil)
	return gen, pool.Close, nil
}

type issuedNumber struct {
	Number string `json:"number" yaml:"number"`
}

var sequenceCmd = &cobra.Command{
	Use:   "sequence",
	Short: "Issue and inspect case numbers",
}

var sequenceNextCmd = &cobra.Command{
	Use:   "next [scope]",
	Short: "Issue the next number, scoped to the current year by default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		issuer, release, err := openSequence(ctx)
		if err != nil {
			return err
		}
		defer release()

		var number string
		if len(args) == 1 {
			number, err = issuer.Next(ctx, args[0])
		} else {
			number, err = issuer.NextCaseNumber(ctx)
		}
		if err != nil {
			return fmt.Errorf("issue number: %w", err)
		}
		return render(cmd, issuedNumber{Number: number}, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, number)
			return err
		})
	},
}

var sequenceStatsCmd = &cobra.Command{
	Use:   "stats <scope>",
	Short: "Show usage of a sequence scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		issuer, release, err := openSequence(ctx)
		if err != nil {
			return err
		}
		defer release()

		st, err := issuer.Stats(ctx, args[0])
		if err != nil {
			return fmt.Errorf("sequence stats: %w", err)
		}
		return render(cmd, st, func(w io.Writer) error {
			last := st.LastIssued
			if last == "" {
				last = "-"
			}
			_, err := fmt.Fprintf(w, "%-10s %-8s %-12s %10s %10s %7s\n", "SEQUENCE", "SCOPE", "LAST", "ISSUED", "REMAINING", "USED")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "%-10s %-8s %-12s %10d %10d %6.1f%%\n", st.Sequence, st.ScopeKey, last, st.IssuedTotal, st.Remaining, st.UsedPercent)
			if err == nil && st.NearLimit {
				_, err = fmt.Fprintln(w, "warning: scope is near its limit")
			}
			return err
		})
	},
}

func init() {
	sequenceCmd.AddCommand(sequenceNextCmd)
	sequenceCmd.AddCommand(sequenceStatsCmd)
}
