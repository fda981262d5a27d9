package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/reelforge-backend/internal/credentials"
	"github.com/reelforge-backend/internal/domain/event"
	"github.com/reelforge-backend/internal/domain/job"
	"github.com/stretchr/testify/mock"
)

// memoryJobs applies the real status machine to an in-memory table
type memoryJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*job.Job
}

func newMemoryJobs(jobs ...*job.Job) *memoryJobs {
	m := &memoryJobs{jobs: map[uuid.UUID]*job.Job{}}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memoryJobs) Create(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *memoryJobs) GetByID(_ context.Context, id uuid.UUID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, job.ErrJobNotFound{JobID: id}
	}
	out := *j
	return &out, nil
}

func (m *memoryJobs) Transition(_ context.Context, id uuid.UUID, to job.Status, update job.Update) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, job.ErrJobNotFound{JobID: id}
	}
	if !job.CanTransition(j.Status, to) {
		return nil, job.ErrInvalidTransition{JobID: id, From: j.Status, To: to}
	}
	j.Status = to
	if update.ArtifactRef != nil {
		j.ArtifactRef = update.ArtifactRef
	}
	if update.ErrorDetail != nil {
		j.ErrorDetail = update.ErrorDetail
	}
	if update.DurationSeconds != nil {
		j.DurationSeconds = update.DurationSeconds
	}
	j.UpdatedAt = time.Now()
	out := *j
	return &out, nil
}

func (m *memoryJobs) ListByStatus(_ context.Context, status job.Status, limit int) ([]*job.Job, error) {
	return m.ListStale(context.Background(), status, time.Now().Add(time.Hour), limit)
}

func (m *memoryJobs) ListStale(_ context.Context, status job.Status, updatedBefore time.Time, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*job.Job
	for _, j := range m.jobs {
		if j.Status == status && j.UpdatedAt.Before(updatedBefore) && len(out) < limit {
			c := *j
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memoryJobs) WithTx(pgx.Tx) job.Repository { return m }

func (m *memoryJobs) status(id uuid.UUID) job.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status
}

// refundingSettler settles against memoryJobs and counts refunds per job
type refundingSettler struct {
	jobs    *memoryJobs
	mu      sync.Mutex
	refunds map[uuid.UUID]int64
	count   map[uuid.UUID]int
}

func newRefundingSettler(jobs *memoryJobs) *refundingSettler {
	return &refundingSettler{jobs: jobs, refunds: map[uuid.UUID]int64{}, count: map[uuid.UUID]int{}}
}

func (s *refundingSettler) Settle(ctx context.Context, jobID uuid.UUID, to job.Status, detail string) (*job.Job, error) {
	closed, err := s.jobs.Transition(ctx, jobID, to, job.WithError(detail))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.refunds[jobID] += closed.Cost
	s.count[jobID]++
	s.mu.Unlock()
	return closed, nil
}

type MockSource struct {
	mock.Mock
}

func (m *MockSource) Acquire() (credentials.Credential, error) {
	args := m.Called()
	return args.Get(0).(credentials.Credential), args.Error(1)
}

func (m *MockSource) ReportSuccess(c credentials.Credential) {
	m.Called(c)
}

func (m *MockSource) ReportFailure(c credentials.Credential, err error) {
	m.Called(c, err)
}

// scriptedRunner returns queued outcomes in order and calls the checkpoint once per run
type scriptedRunner struct {
	outcomes []error
	result   *Result
	calls    int
	creds    []credentials.Credential
	// midway runs before the checkpoint, standing in for work done by the provider
	midway         func(j *job.Job)
	skipCheckpoint bool
}

func (r *scriptedRunner) Run(ctx context.Context, j *job.Job, cred credentials.Credential, checkpoint Checkpoint) (*Result, error) {
	r.creds = append(r.creds, cred)
	if r.midway != nil {
		r.midway(j)
	}
	if !r.skipCheckpoint {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}
	}
	idx := r.calls
	r.calls++
	if idx < len(r.outcomes) && r.outcomes[idx] != nil {
		return nil, r.outcomes[idx]
	}
	return r.result, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.JobEvent
}

func (p *recordingPublisher) PublishJobEvent(_ context.Context, evt *event.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
