package engine

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/model"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultPollTimeout  = 300 * time.Second
)

// Poller waits for a submitted job by querying its history.
type Poller struct {
	client   *Client
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollInterval sets the delay between history queries.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPollTimeout sets the overall deadline of Wait.
func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewPoller creates a poller for jobs on c.
func NewPoller(c *Client, opts ...PollerOption) *Poller {
	p := &Poller{
		client:   c,
		interval: defaultPollInterval,
		timeout:  defaultPollTimeout,
		logger:   c.logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait blocks until the job completes, fails, the poll deadline passes
// (ErrTimedOut) or ctx is done. The first query is sent immediately.
func (p *Poller) Wait(ctx context.Context, id model.JobID) (*model.Job, error) {
	return p.WaitWithWake(ctx, id, nil)
}

// WaitWithWake is Wait with an extra trigger: every receive on wake causes
// an immediate query. Events only hurry the poller, they never decide the
// job's state.
func (p *Poller) WaitWithWake(ctx context.Context, id model.JobID, wake <-chan struct{}) (*model.Job, error) {
	start := time.Now()
	// the deadline also bounds a history query that is still in flight
	pollCtx, cancel := context.WithDeadline(ctx, start.Add(p.timeout))
	defer cancel()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger := p.logger.With(zap.String("job-id", string(id)))
	state := model.JobPending
	for attempt := 1; ; attempt++ {
		job := p.tick(pollCtx, id, logger)
		if job != nil {
			if job.State != state {
				logger.Debug("job state changed",
					zap.String("from", string(state)), zap.String("to", string(job.State)))
				state = job.State
			}
			switch job.State {
			case model.JobCompleted:
				logger.Info("job completed",
					zap.Int("attempt", attempt),
					zap.Int("artifacts", len(job.Outputs)),
					zap.Duration("elapsed", time.Since(start)))
				return job, nil
			case model.JobFailed:
				logger.Warn("job failed", zap.String("message", job.Message))
				return job, errors.Annotatef(ErrJobFailed, "job %s: %s", id, job.Message)
			}
		}

		select {
		case <-pollCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, errors.Trace(err)
			}
			logger.Warn("job timed out",
				zap.Int("attempts", attempt), zap.Duration("timeout", p.timeout))
			return &model.Job{ID: id, ClientID: p.client.clientID, State: model.JobUnknown},
				errors.Annotatef(ErrTimedOut, "job %s after %s", id, p.timeout)
		case <-ticker.C:
		case <-wake:
		}
	}
}

// session returns a copy of p that queries through c.
func (p *Poller) session(c *Client) *Poller {
	cp := *p
	cp.client = c
	return &cp
}

// tick runs one history query. Faults are logged and read as "still waiting".
func (p *Poller) tick(ctx context.Context, id model.JobID, logger *zap.Logger) *model.Job {
	pollTickCounter.Inc()
	endpoint := p.client.endpoint("/history/"+url.PathEscape(string(id)), nil)

	callCtx, cancel := context.WithTimeout(ctx, p.client.requestTimeout)
	defer cancel()
	req, err := p.client.newRequest(callCtx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		logger.Warn("history request", zap.Error(err))
		return nil
	}
	status, _, body, err := p.client.do(req)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("history query failed", zap.Error(err))
		}
		return nil
	}
	if !statusOK(status) {
		logger.Warn("history query rejected", zap.Int("status", status), zap.String("body", snippet(body)))
		return nil
	}
	job, ok := parseHistory(body, id)
	if !ok {
		logger.Warn("history response malformed", zap.String("body", snippet(body)))
		return nil
	}
	if job != nil {
		job.ClientID = p.client.clientID
	}
	return job
}
