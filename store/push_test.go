package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-summarizer/history"
	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

type mockConnection struct {
	mock.Mock
}

func (m *mockConnection) EnsureSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockConnection) Begin(ctx context.Context) (Transactor, error) {
	args := m.Called(ctx)
	tx, _ := args.Get(0).(Transactor)
	return tx, args.Error(1)
}

func (m *mockConnection) Close() error {
	return m.Called().Error(0)
}

type mockTransactor struct {
	mock.Mock
}

func (m *mockTransactor) InsertRun(ctx context.Context, r Run) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockTransactor) InsertFailure(ctx context.Context, f Failure) error {
	return m.Called(ctx, f).Error(0)
}

func (m *mockTransactor) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTransactor) Rollback(ctx context.Context) {
	m.Called(ctx)
}

func pushInput() PushInput {
	return PushInput{
		RunID:     "run-1",
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Summary: &types.RunSummary{
			TestCount:   3,
			PassedCount: 1,
			FailedCount: 2,
			PassRate:    33.33,
			Failures: []types.TestFailure{
				{Title: "A", Status: "failed", ErrorCategory: "NetworkError", ErrorMessage: "net::ERR"},
				{Title: "B", ID: "b-id", Status: "timedOut", IsTimeout: true},
			},
			BuildInfo: map[string]any{"branch": "main"},
		},
		Comparison: history.Comparison{NewlyFailing: []string{"b-id"}, Fixed: []string{"C"}},
		FlakyCount: 1,
	}
}

func TestPush(t *testing.T) {
	ctx := context.Background()
	in := pushInput()

	tx := &mockTransactor{}
	tx.On("InsertRun", ctx, mock.MatchedBy(func(r Run) bool {
		return r.ID == "run-1" && r.Status == "failed" && r.FailedCount == 2 &&
			r.NewlyFailing == 1 && r.Fixed == 1 && r.FlakyCount == 1 && r.BuildInfo["branch"] == "main"
	})).Return(nil).Once()
	tx.On("InsertFailure", ctx, mock.MatchedBy(func(f Failure) bool {
		return f.TestKey == "A" && f.Category == "NetworkError" && !f.NewlyFailing
	})).Return(nil).Once()
	tx.On("InsertFailure", ctx, mock.MatchedBy(func(f Failure) bool {
		return f.TestKey == "b-id" && f.IsTimeout && f.NewlyFailing
	})).Return(nil).Once()
	tx.On("Commit", ctx).Return(nil).Once()

	conn := &mockConnection{}
	conn.On("Begin", ctx).Return(tx, nil).Once()

	require.NoError(t, Push(ctx, conn, in))
	tx.AssertExpectations(t)
	tx.AssertNotCalled(t, "Rollback", mock.Anything)
	conn.AssertExpectations(t)
}

func TestPush_RollbackOnError(t *testing.T) {
	ctx := context.Background()

	tx := &mockTransactor{}
	tx.On("InsertRun", ctx, mock.Anything).Return(nil)
	tx.On("InsertFailure", ctx, mock.Anything).Return(errors.New("constraint violation")).Once()
	tx.On("Rollback", ctx).Return().Once()

	conn := &mockConnection{}
	conn.On("Begin", ctx).Return(tx, nil)

	err := Push(ctx, conn, pushInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constraint violation")
	tx.AssertExpectations(t)
	tx.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestPush_BeginError(t *testing.T) {
	ctx := context.Background()
	conn := &mockConnection{}
	conn.On("Begin", ctx).Return(nil, errors.New("no connection"))

	require.Error(t, Push(ctx, conn, pushInput()))
}

func TestPush_NilSummary(t *testing.T) {
	require.Error(t, Push(context.Background(), &mockConnection{}, PushInput{RunID: "x"}))
}
