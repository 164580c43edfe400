package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hourledger/hourledger/internal/sequence"
	"github.com/hourledger/hourledger/internal/shared"
	"github.com/hourledger/hourledger/jobs"
)

type stubIssuer struct {
	scopes   []string
	next     string
	stats    sequence.Stats
	err      error
	released bool
}

func (s *stubIssuer) Next(_ context.Context, scope string) (string, error) {
	s.scopes = append(s.scopes, scope)
	return s.next, s.err
}

func (s *stubIssuer) NextCaseNumber(ctx context.Context) (string, error) {
	return s.Next(ctx, "")
}

func (s *stubIssuer) Stats(_ context.Context, scope string) (sequence.Stats, error) {
	s.scopes = append(s.scopes, scope)
	return s.stats, s.err
}

func withIssuer(t *testing.T, issuer *stubIssuer) {
	t.Helper()
	prev := openSequence
	openSequence = func(context.Context) (SequenceIssuer, func(), error) {
		return issuer, func() { issuer.released = true }, nil
	}
	t.Cleanup(func() { openSequence = prev })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSequenceNextText(t *testing.T) {
	issuer := &stubIssuer{next: "2025007"}
	withIssuer(t, issuer)

	out, err := run(t, "sequence", "next", "-o", "text")
	require.NoError(t, err)
	require.Equal(t, "2025007\n", out)
	require.Equal(t, []string{""}, issuer.scopes)
	require.True(t, issuer.released)
}

func TestSequenceNextScopedJSON(t *testing.T) {
	issuer := &stubIssuer{next: "2024101"}
	withIssuer(t, issuer)

	out, err := run(t, "sequence", "next", "2024", "-o", "json")
	require.NoError(t, err)
	require.Equal(t, []string{"2024"}, issuer.scopes)

	var got issuedNumber
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "2024101", got.Number)
}

func TestSequenceNextExhausted(t *testing.T) {
	withIssuer(t, &stubIssuer{err: shared.ResourceExhausted("sequence case exhausted for scope 2025", nil)})

	_, err := run(t, "sequence", "next", "-o", "text")
	require.Error(t, err)
	require.Equal(t, shared.CodeResourceExhausted, shared.CodeOf(err))
}

func TestSequenceStatsYAML(t *testing.T) {
	withIssuer(t, &stubIssuer{stats: sequence.Stats{
		Sequence:    "case",
		ScopeKey:    "2025",
		LastNumber:  950,
		LastIssued:  "2025950",
		Max:         999,
		Remaining:   49,
		UsedPercent: 95.1,
		IssuedTotal: 950,
		NearLimit:   true,
	}})

	out, err := run(t, "sequence", "stats", "2025", "-o", "yaml")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	require.Equal(t, "2025950", got["lastissued"])
	require.Equal(t, true, got["nearlimit"])
}

func TestSequenceStatsText(t *testing.T) {
	withIssuer(t, &stubIssuer{stats: sequence.Stats{Sequence: "case", ScopeKey: "2026", Max: 999, Remaining: 999}})

	out, err := run(t, "sequence", "stats", "2026", "-o", "text")
	require.NoError(t, err)
	require.Contains(t, out, "case")
	require.Contains(t, out, "2026")
	require.NotContains(t, out, "warning")
}

func TestUnknownOutputFormat(t *testing.T) {
	withIssuer(t, &stubIssuer{next: "2025001"})

	_, err := run(t, "sequence", "next", "-o", "xml")
	require.ErrorContains(t, err, "unknown output format")
}

func TestJobsTriggerRejectsUnknownTask(t *testing.T) {
	cli := NewJobsCLI(asynq.RedisClientOpt{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = cli.Close() })

	_, err := cli.Trigger(context.Background(), "reports:nightly")
	var unsupported *jobs.UnsupportedTaskError
	require.True(t, errors.As(err, &unsupported))
	require.Equal(t, "reports:nightly", unsupported.Name)
}

func TestJobsCLINotConfigured(t *testing.T) {
	var cli *JobsCLI
	_, err := cli.Trigger(context.Background(), jobs.TaskIdempotencyPurge)
	require.Error(t, err)
	_, err = cli.InspectQueue(context.Background())
	require.Error(t, err)
}
