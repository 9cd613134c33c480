package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum-optimism/infra/op-summarizer/history"
	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// PushInput is everything stored for one run
type PushInput struct {
	RunID      string
	CreatedAt  time.Time
	Summary    *types.RunSummary
	Comparison history.Comparison
	FlakyCount int
}

// Push stores a run and its failures in a single transaction
func Push(ctx context.Context, conn Connection, in PushInput) (err error) {
	if in.Summary == nil {
		return fmt.Errorf("no summary for run %s", in.RunID)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	status := types.RunStatusPassed
	if in.Summary.HasFailures() {
		status = types.RunStatusFailed
	}
	if err = tx.InsertRun(ctx, Run{
		ID:            in.RunID,
		CreatedAt:     in.CreatedAt,
		Status:        string(status),
		TestCount:     in.Summary.TestCount,
		PassedCount:   in.Summary.PassedCount,
		FailedCount:   in.Summary.FailedCount,
		SkippedCount:  in.Summary.SkippedCount,
		FlakyCount:    in.FlakyCount,
		PassRate:      in.Summary.PassRate,
		TotalDuration: in.Summary.TotalDuration,
		NewlyFailing:  len(in.Comparison.NewlyFailing),
		Fixed:         len(in.Comparison.Fixed),
		BuildInfo:     in.Summary.BuildInfo,
	}); err != nil {
		return err
	}

	for _, f := range in.Summary.Failures {
		if err = tx.InsertFailure(ctx, Failure{
			RunID:        in.RunID,
			TestKey:      f.Key(),
			Title:        f.Title,
			Suite:        f.Suite,
			File:         f.File,
			Team:         f.Team,
			Status:       f.Status,
			Category:     f.ErrorCategory,
			Message:      f.ErrorMessage,
			Duration:     f.Duration,
			IsTimeout:    f.IsTimeout,
			NewlyFailing: slices.Contains(in.Comparison.NewlyFailing, f.Key()),
		}); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", in.RunID, err)
	}
	return nil
}
