package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/reelforge-backend/internal/config"
	"github.com/reelforge-backend/internal/credentials"
	"github.com/reelforge-backend/internal/domain/job"
	"github.com/reelforge-backend/internal/metrics"
	"github.com/reelforge-backend/internal/platform/provider"
	"github.com/reelforge-backend/internal/platform/storage"
)

// ErrJobAborted means the job left processing while the workflow ran
var ErrJobAborted = errors.New("job is no longer processing")

// Checkpoint returns ErrJobAborted once the job should stop
type Checkpoint func(ctx context.Context) error

// Result is what a successful run produced
type Result struct {
	GenerationID    string
	ArtifactRef     string
	DurationSeconds *float64
}

// Runner executes the external generation steps for one job
type Runner interface {
	Run(ctx context.Context, j *job.Job, cred credentials.Credential, checkpoint Checkpoint) (*Result, error)
}

var _ Runner = (*Workflow)(nil)

// Workflow submits a generation, polls it to completion, optionally copies
// the artifact into storage and probes its duration
type Workflow struct {
	provider     provider.Client
	store        storage.ArtifactStore
	prober       provider.Prober
	pollInterval time.Duration
	maxPolls     int
	logger       *slog.Logger
}

// NewWorkflow builds a workflow. store and prober may be nil to skip
// persistence and probing.
func NewWorkflow(client provider.Client, store storage.ArtifactStore, prober provider.Prober, cfg *config.ProviderConfig, logger *slog.Logger) *Workflow {
	return &Workflow{
		provider:     client,
		store:        store,
		prober:       prober,
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		logger:       logger,
	}
}

func (w *Workflow) Run(ctx context.Context, j *job.Job, cred credentials.Credential, checkpoint Checkpoint) (*Result, error) {
	logger := w.logger.With("job_id", j.ID.String())

	gen, err := timed("submit", func() (*provider.Generation, error) {
		return w.provider.Submit(ctx, cred.Key, j.Params)
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Generation submitted", "generation_id", gen.ID, "status", string(gen.Status))

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	gen, err = timed("poll", func() (*provider.Generation, error) {
		return w.awaitGeneration(ctx, cred, gen)
	})
	if err != nil {
		return nil, err
	}
	if gen.ArtifactURL == "" {
		return nil, &provider.Error{Op: "resolve", Kind: provider.KindUnknown, Message: "generation succeeded without an artifact url"}
	}

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	result := &Result{GenerationID: gen.ID, ArtifactRef: gen.ArtifactURL}
	if w.store != nil {
		ref, err := timed("store", func() (string, error) {
			return w.persist(ctx, j, gen.ArtifactURL)
		})
		if err != nil {
			return nil, err
		}
		result.ArtifactRef = ref
	}

	if w.prober != nil {
		duration, err := timed("probe", func() (float64, error) {
			return w.prober.Probe(ctx, gen.ArtifactURL)
		})
		if err != nil {
			logger.Warn("Artifact probe failed, continuing without duration", "error", err)
		} else {
			result.DurationSeconds = &duration
		}
	}

	return result, nil
}

func (w *Workflow) awaitGeneration(ctx context.Context, cred credentials.Credential, gen *provider.Generation) (*provider.Generation, error) {
	for polls := 0; !gen.Status.IsTerminal(); polls++ {
		if polls >= w.maxPolls {
			return nil, fmt.Errorf("generation %s timed out after %d polls", gen.ID, polls)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.pollInterval):
		}

		next, err := w.provider.Poll(ctx, cred.Key, gen.ID)
		if err != nil {
			return nil, err
		}
		gen = next
	}
	return gen, nil
}

func (w *Workflow) persist(ctx context.Context, j *job.Job, artifactURL string) (string, error) {
	body, err := w.provider.Download(ctx, artifactURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	return w.store.Store(ctx, j.ID.String()+".mp4", body)
}

func timed[T any](step string, fn func() (T, error)) (T, error) {
	timer := prometheus.NewTimer(metrics.WorkerStepDuration.WithLabelValues(step))
	defer timer.ObserveDuration()
	return fn()
}
