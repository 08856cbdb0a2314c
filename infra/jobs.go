package infra

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Tsinling0525/rivulet-gen/engine"
	"github.com/Tsinling0525/rivulet-gen/model"
	"github.com/Tsinling0525/rivulet-gen/plugin"
)

var (
	// ErrJobNotFound is returned for unknown local job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("job manager closed")
	// ErrNotReady is returned by Result for jobs without a stored result.
	ErrNotReady = errors.New("job result not available")
)

// Runner runs one generation job.
type Runner interface {
	RunJob(ctx context.Context, r engine.Request) (*engine.Result, error)
}

// Job is a snapshot of one submitted generation.
type Job struct {
	ID          string          `json:"id"`
	State       model.JobState  `json:"state"`
	Prompt      string          `json:"prompt"`
	EngineJobID model.JobID     `json:"engine_job_id,omitempty"`
	Artifact    *model.Artifact `json:"artifact,omitempty"`
	FileID      string          `json:"file_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

type jobEntry struct {
	mu     sync.Mutex
	job    Job
	cancel context.CancelFunc

	logs    []string
	maxLogs int
}

func (e *jobEntry) logf(format string, a ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	line := time.Now().Format(time.RFC3339) + " " + fmt.Sprintf(format, a...)
	if e.logs == nil {
		e.logs = make([]string, 0, 16)
	}
	e.logs = append(e.logs, line)
	if e.maxLogs <= 0 {
		e.maxLogs = 200
	}
	if len(e.logs) > e.maxLogs {
		// trim oldest
		e.logs = e.logs[len(e.logs)-e.maxLogs:]
	}
}

func (e *jobEntry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	j := e.job
	if j.Artifact != nil {
		a := *j.Artifact
		j.Artifact = &a
	}
	return j
}

func (e *jobEntry) update(fn func(*Job)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.job)
}

// JobManager runs jobs in the background with bounded concurrency and keeps
// their results in a FileStore.
type JobManager struct {
	mu     sync.Mutex
	items  map[string]*jobEntry
	closed bool

	runner Runner
	files  plugin.FileStore
	sem    *semaphore.Weighted
	group  errgroup.Group
	ctx    context.Context
	stop   context.CancelFunc
	logger *zap.Logger
	newID  func() string
}

// NewJobManager creates a manager running at most maxConcurrent jobs at once.
func NewJobManager(runner Runner, files plugin.FileStore, maxConcurrent int, logger *zap.Logger) *JobManager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &JobManager{
		items:  make(map[string]*jobEntry),
		runner: runner,
		files:  files,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:    ctx,
		stop:   stop,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Submit queues a job and returns its pending snapshot.
func (m *JobManager) Submit(r engine.Request) (Job, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Job{}, ErrClosed
	}
	ctx, cancel := context.WithCancel(m.ctx)
	e := &jobEntry{
		job: Job{
			ID:        m.newID(),
			State:     model.JobPending,
			Prompt:    r.Prompt,
			CreatedAt: time.Now().UTC(),
		},
		cancel:  cancel,
		maxLogs: 200,
	}
	m.items[e.job.ID] = e
	queued := e.snapshot()
	e.logf("job queued")
	m.group.Go(func() error {
		defer cancel()
		m.run(ctx, e, r)
		return nil
	})
	m.mu.Unlock()

	m.logger.Info("job queued", zap.String("job", queued.ID))
	return queued, nil
}

func (m *JobManager) run(ctx context.Context, e *jobEntry, r engine.Request) {
	id := e.snapshot().ID
	logger := m.logger.With(zap.String("job", id))

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(e, model.JobFailed, errors.Trace(err), logger)
		return
	}
	defer m.sem.Release(1)

	e.update(func(j *Job) { j.State = model.JobRunning })
	e.logf("job started")

	res, err := m.runner.RunJob(ctx, r)
	if err != nil {
		state := model.JobFailed
		if errors.Cause(err) == engine.ErrTimedOut {
			state = model.JobUnknown
		}
		m.finish(e, state, err, logger)
		return
	}

	e.update(func(j *Job) {
		j.EngineJobID = res.JobID
		a := res.Artifact
		j.Artifact = &a
	})
	fileID, err := m.files.Put(ctx, id, res.Artifact.Filename, res.Data, res.ContentType)
	if err != nil {
		m.finish(e, model.JobFailed, errors.Annotate(err, "store result"), logger)
		return
	}
	e.update(func(j *Job) { j.FileID = fileID })
	m.finish(e, model.JobCompleted, nil, logger)
}

func (m *JobManager) finish(e *jobEntry, state model.JobState, err error, logger *zap.Logger) {
	now := time.Now().UTC()
	e.update(func(j *Job) {
		j.State = state
		j.FinishedAt = &now
		if err != nil {
			j.Error = err.Error()
		}
	})
	if err != nil {
		e.logf("job %s: %v", state, err)
		logger.Warn("job finished", zap.String("state", string(state)), zap.Error(err))
		return
	}
	e.logf("job %s", state)
	logger.Info("job finished", zap.String("state", string(state)))
}

func (m *JobManager) entry(id string) (*jobEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	return e, ok
}

// Get returns a snapshot of the job.
func (m *JobManager) Get(id string) (Job, bool) {
	e, ok := m.entry(id)
	if !ok {
		return Job{}, false
	}
	return e.snapshot(), true
}

// List returns all jobs, oldest first.
func (m *JobManager) List() []Job {
	m.mu.Lock()
	entries := make([]*jobEntry, 0, len(m.items))
	for _, e := range m.items {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Job, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Result returns the stored output of a completed job.
func (m *JobManager) Result(ctx context.Context, id string) (model.FileMeta, []byte, error) {
	e, ok := m.entry(id)
	if !ok {
		return model.FileMeta{}, nil, errors.Annotatef(ErrJobNotFound, "%s", id)
	}
	j := e.snapshot()
	if j.State != model.JobCompleted || j.FileID == "" {
		return model.FileMeta{}, nil, errors.Annotatef(ErrNotReady, "%s is %s", id, j.State)
	}
	return m.files.Get(ctx, id, j.FileID)
}

// Cancel stops a pending or running job.
func (m *JobManager) Cancel(id string) error {
	e, ok := m.entry(id)
	if !ok {
		return errors.Annotatef(ErrJobNotFound, "%s", id)
	}
	e.cancel()
	return nil
}

// Logs returns the job's log lines.
func (m *JobManager) Logs(id string) ([]string, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, errors.Annotatef(ErrJobNotFound, "%s", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.logs))
	copy(out, e.logs)
	return out, nil
}

// Close rejects new jobs, cancels running ones and waits for them to end or
// for ctx to expire.
func (m *JobManager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		_ = m.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}
