package outbox_relay

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/reelforge-backend/internal/config"
	"github.com/reelforge-backend/internal/domain/outbox"
	"github.com/reelforge-backend/internal/domain/shared"
	"github.com/reelforge-backend/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRecordDispatcher for testing
type MockRecordDispatcher struct {
	mock.Mock
}

func (m *MockRecordDispatcher) Dispatch(ctx context.Context, record *outbox.Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func TestRelay_RunOnce(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	cfg := &config.OutboxConfig{
		PollingInterval:  time.Second,
		BatchSize:        10,
		RetryBatchSize:   5,
		MaxRetryAttempts: 3,
		RetryCooldown:    30 * time.Second,
	}

	tests := []struct {
		name          string
		setupMocks    func(repo *MockOutboxRepo, dispatcher *MockRecordDispatcher)
		expectedError string
		exhausted     float64
	}{
		{
			name: "pending then retryable records are dispatched",
			setupMocks: func(repo *MockOutboxRepo, dispatcher *MockRecordDispatcher) {
				p1 := newTestRecord(t, 1, shared.OutboxStatusPending, 0)
				p2 := newTestRecord(t, 2, shared.OutboxStatusPending, 0)
				r1 := newTestRecord(t, 3, shared.OutboxStatusFailed, 1)

				repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Record{p1, p2}, nil).Once()
				repo.On("GetRetryable", mock.Anything, 3, now.Add(-30*time.Second), 5).Return([]*outbox.Record{r1}, nil).Once()
				dispatcher.On("Dispatch", mock.Anything, p1).Return(nil).Once()
				dispatcher.On("Dispatch", mock.Anything, p2).Return(&RelayDeliveryError{RecordID: 2, Attempts: 1, Err: errors.New("queue down")}).Once()
				dispatcher.On("Dispatch", mock.Anything, r1).Return(nil).Once()
				repo.On("CountExhausted", mock.Anything, 3).Return(int64(0), nil).Once()
			},
		},
		{
			name: "exhausted records are counted",
			setupMocks: func(repo *MockOutboxRepo, dispatcher *MockRecordDispatcher) {
				r1 := newTestRecord(t, 4, shared.OutboxStatusFailed, 2)

				repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Record{}, nil).Once()
				repo.On("GetRetryable", mock.Anything, 3, now.Add(-30*time.Second), 5).Return([]*outbox.Record{r1}, nil).Once()
				dispatcher.On("Dispatch", mock.Anything, r1).Return(&RelayDeliveryError{RecordID: 4, Attempts: 3, Exhausted: true, Err: errors.New("queue down")}).Once()
				repo.On("CountExhausted", mock.Anything, 3).Return(int64(2), nil).Once()
			},
			exhausted: 2,
		},
		{
			name: "pending fetch error stops the pass",
			setupMocks: func(repo *MockOutboxRepo, _ *MockRecordDispatcher) {
				repo.On("GetPending", mock.Anything, 10).Return(nil, errors.New("db error")).Once()
			},
			expectedError: "failed to get pending outbox records",
		},
		{
			name: "retryable fetch error",
			setupMocks: func(repo *MockOutboxRepo, _ *MockRecordDispatcher) {
				repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Record{}, nil).Once()
				repo.On("GetRetryable", mock.Anything, 3, now.Add(-30*time.Second), 5).Return(nil, errors.New("db error")).Once()
			},
			expectedError: "failed to get retryable outbox records",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockOutboxRepo{}
			dispatcher := &MockRecordDispatcher{}
			tt.setupMocks(repo, dispatcher)

			relay := NewRelay(cfg, repo, dispatcher, slog.New(slog.NewJSONHandler(os.Stdout, nil)))
			relay.now = func() time.Time { return now }

			err := relay.RunOnce(context.Background())
			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.exhausted, testutil.ToFloat64(metrics.OutboxExhausted))
			}

			repo.AssertExpectations(t)
			dispatcher.AssertExpectations(t)
		})
	}
}

func TestRelay_Start(t *testing.T) {
	repo := &MockOutboxRepo{}
	dispatcher := &MockRecordDispatcher{}
	cfg := &config.OutboxConfig{
		PollingInterval:  10 * time.Millisecond,
		BatchSize:        10,
		RetryBatchSize:   5,
		MaxRetryAttempts: 3,
	}

	repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Record{}, nil)
	repo.On("GetRetryable", mock.Anything, 3, mock.Anything, 5).Return([]*outbox.Record{}, nil)
	repo.On("CountExhausted", mock.Anything, 3).Return(int64(0), nil)

	relay := NewRelay(cfg, repo, dispatcher, slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		relay.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after context cancellation")
	}

	repo.AssertCalled(t, "GetPending", mock.Anything, 10)
	dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}
