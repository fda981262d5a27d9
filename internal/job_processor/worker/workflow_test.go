package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge-backend/internal/config"
	"github.com/reelforge-backend/internal/credentials"
	"github.com/reelforge-backend/internal/domain/job"
	"github.com/reelforge-backend/internal/platform/provider"
	"github.com/reelforge-backend/internal/platform/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProviderClient struct {
	mock.Mock
}

func (m *MockProviderClient) Submit(ctx context.Context, credential string, params json.RawMessage) (*provider.Generation, error) {
	args := m.Called(ctx, credential, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Generation), args.Error(1)
}

func (m *MockProviderClient) Poll(ctx context.Context, credential string, generationID string) (*provider.Generation, error) {
	args := m.Called(ctx, credential, generationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Generation), args.Error(1)
}

func (m *MockProviderClient) Download(ctx context.Context, artifactURL string) (io.ReadCloser, error) {
	args := m.Called(ctx, artifactURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

type MockArtifactStore struct {
	mock.Mock
}

func (m *MockArtifactStore) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	args := m.Called(ctx, name, r)
	return args.String(0), args.Error(1)
}

func (m *MockArtifactStore) Open(ctx context.Context, id string) (*storage.Artifact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Artifact), args.Error(1)
}

type MockProber struct {
	mock.Mock
}

func (m *MockProber) Probe(ctx context.Context, target string) (float64, error) {
	args := m.Called(ctx, target)
	return args.Get(0).(float64), args.Error(1)
}

func testProviderConfig() *config.ProviderConfig {
	return &config.ProviderConfig{PollInterval: time.Millisecond, MaxPolls: 3}
}

func testJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.NewJob(uuid.New(), json.RawMessage(`{"prompt":"waves"}`), 3)
	require.NoError(t, err)
	j.Status = job.StatusProcessing
	return j
}

func passCheckpoint(context.Context) error { return nil }

func TestWorkflow_Run(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cred := credentials.Credential{Key: "key-b", Slot: 1}
	artifactURL := "https://provider.example/files/gen-9.mp4"

	t.Run("polls until succeeded then stores and probes", func(t *testing.T) {
		j := testJob(t)
		client := new(MockProviderClient)
		store := new(MockArtifactStore)
		prober := new(MockProber)

		client.On("Submit", mock.Anything, "key-b", j.Params).
			Return(&provider.Generation{ID: "gen-9", Status: provider.GenerationQueued}, nil).Once()
		client.On("Poll", mock.Anything, "key-b", "gen-9").
			Return(&provider.Generation{ID: "gen-9", Status: provider.GenerationRunning}, nil).Once()
		client.On("Poll", mock.Anything, "key-b", "gen-9").
			Return(&provider.Generation{ID: "gen-9", Status: provider.GenerationSucceeded, ArtifactURL: artifactURL}, nil).Once()
		client.On("Download", mock.Anything, artifactURL).
			Return(io.NopCloser(strings.NewReader("mp4-bytes")), nil).Once()
		store.On("Store", mock.Anything, j.ID.String()+".mp4", mock.Anything).
			Return(storage.RefPrefix+"abc123", nil).Once()
		prober.On("Probe", mock.Anything, artifactURL).Return(6.25, nil).Once()

		wf := NewWorkflow(client, store, prober, testProviderConfig(), logger)
		result, err := wf.Run(context.Background(), j, cred, passCheckpoint)
		require.NoError(t, err)

		assert.Equal(t, "gen-9", result.GenerationID)
		assert.Equal(t, storage.RefPrefix+"abc123", result.ArtifactRef)
		require.NotNil(t, result.DurationSeconds)
		assert.Equal(t, 6.25, *result.DurationSeconds)
		client.AssertExpectations(t)
		store.AssertExpectations(t)
		prober.AssertExpectations(t)
	})

	t.Run("without store the provider url is the artifact", func(t *testing.T) {
		j := testJob(t)
		client := new(MockProviderClient)
		client.On("Submit", mock.Anything, "key-b", j.Params).
			Return(&provider.Generation{ID: "gen-9", Status: provider.GenerationSucceeded, ArtifactURL: artifactURL}, nil).Once()

		wf := NewWorkflow(client, nil, nil, testProviderConfig(), logger)
		result, err := wf.Run(context.Background(), j, cred, passCheckpoint)
		require.NoError(t, err)

		assert.Equal(t, artifactURL, result.ArtifactRef)
		assert.Nil(t, result.DurationSeconds)
		client.AssertNotCalled(t, "Poll", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("probe failure does not fail the run", func(t *testing.T) {
		j := testJob(t)
		client := new(MockProviderClient)
		prober := new(MockProber)
		client.On("Submit", mock.Anything, "key-b", j.Params).
			Return(&provider.Generation{ID: "gen-9", Status: provider.GenerationSucceeded, ArtifactURL: artifactURL}, nil).Once()
		prober.On("Probe", mock.Anything, artifactURL).Return(0.0, errors.New("ffprobe: exit status 1")).Once()

		wf := NewWorkflow(client, nil, prober, testProviderConfig(), logger)
		result, err := wf.Run(context.Background(), j, cred, passCheckpoint)
		require.NoError(t, err)
		assert.Nil(t, result.DurationSeconds)
	})

	t.Run("checkpoint abort stops before polling", func(t *testing.T) {
		j := testJob(t)
		client := new(MockProviderClient)
		client.On("Submit", mock.Anything, "key-b", j.Params).
			Return(&provider.Generation{ID: "gen-9", Status: provider.GenerationQueued}, nil).Once()

		wf := NewWorkflow(client, nil, nil, testProviderConfig(), logger)
		_, err := wf.Run(context.Background(), j, cred, func(context.Context) error { return ErrJobAborted })
		assert.ErrorIs(t, err, ErrJobAborted)
		client.AssertNotCalled(t, "Poll", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("gives up after max polls", func(t *testing.T) {
		j := testJob(t)
		client := new(MockProviderClient)
		client.On("Submit", mock.Anything, "key-b", j.Params).
			Return(&provider.Generation{ID: "gen-9", Status: provider.GenerationQueued}, nil).Once()
		client.On("Poll", mock.Anything, "key-b", "gen-9").
			Return(&provider.Generation{ID: "gen-9", Status: provider.GenerationRunning}, nil).Times(3)

		wf := NewWorkflow(client, nil, nil, testProviderConfig(), logger)
		_, err := wf.Run(context.Background(), j, cred, passCheckpoint)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out after 3 polls")
		client.AssertExpectations(t)
	})

	t.Run("provider failure is returned as is", func(t *testing.T) {
		j := testJob(t)
		client := new(MockProviderClient)
		perr := &provider.Error{Op: "poll", Kind: provider.KindQuota, Code: "quota_exceeded"}
		client.On("Submit", mock.Anything, "key-b", j.Params).
			Return(&provider.Generation{ID: "gen-9", Status: provider.GenerationQueued}, nil).Once()
		client.On("Poll", mock.Anything, "key-b", "gen-9").Return(nil, perr).Once()

		wf := NewWorkflow(client, nil, nil, testProviderConfig(), logger)
		_, err := wf.Run(context.Background(), j, cred, passCheckpoint)
		assert.Equal(t, perr, err)
	})

	t.Run("success without artifact url", func(t *testing.T) {
		j := testJob(t)
		client := new(MockProviderClient)
		client.On("Submit", mock.Anything, "key-b", j.Params).
			Return(&provider.Generation{ID: "gen-9", Status: provider.GenerationSucceeded}, nil).Once()

		wf := NewWorkflow(client, nil, nil, testProviderConfig(), logger)
		_, err := wf.Run(context.Background(), j, cred, passCheckpoint)
		perr, ok := provider.AsError(err)
		require.True(t, ok)
		assert.Equal(t, "resolve", perr.Op)
	})
}
