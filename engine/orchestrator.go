package engine

import (
	"context"
	"encoding/base64"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/format/comfy"
	"github.com/Tsinling0525/rivulet-gen/model"
)

// Workflow names the template and the nodes RunJob patches.
type Workflow struct {
	Template     string
	ImageNode    model.ID
	PromptNode   model.ID
	SamplerClass string
}

// Request is the input of one job.
type Request struct {
	Image       []byte
	ImageName   string
	ContentType string
	Prompt      string
	// TemplatePath overrides Workflow.Template when set.
	TemplatePath string
}

// Result is the first output artifact of a completed job.
type Result struct {
	JobID       model.JobID
	Artifact    model.Artifact
	Data        []byte
	ContentType string
}

// DataURI encodes the result as a data: URI.
func (r *Result) DataURI() string {
	ct := r.ContentType
	if ct == "" {
		ct = http.DetectContentType(r.Data)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
}

// Orchestrator runs upload, patch, submit, poll and fetch as one call.
// It holds no per-job state; concurrent RunJob calls are fine.
type Orchestrator struct {
	client   *Client
	poller   *Poller
	workflow Workflow
	watch    bool
	progress ProgressFunc
	load     func(path string) (*model.Graph, error)
	logger   *zap.Logger

	seedMu sync.Mutex
	rnd    *rand.Rand
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPoller replaces the default poller.
func WithPoller(p *Poller) OrchestratorOption {
	return func(o *Orchestrator) {
		if p != nil {
			o.poller = p
		}
	}
}

// WithWebsocket listens for progress events while a job runs. Events wake
// the poller early and are passed to fn when it is non-nil.
func WithWebsocket(enabled bool, fn ProgressFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		o.watch = enabled
		o.progress = fn
	}
}

// WithSeed makes seeds reproducible.
func WithSeed(seed int64) OrchestratorOption {
	return func(o *Orchestrator) { o.rnd = rand.New(rand.NewSource(seed)) }
}

// NewOrchestrator creates an orchestrator over c.
func NewOrchestrator(c *Client, wf Workflow, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		client:   c,
		workflow: wf,
		load:     comfy.Load,
		logger:   c.logger,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.poller == nil {
		o.poller = NewPoller(c)
	}
	return o
}

func (o *Orchestrator) nextSeed() int64 {
	o.seedMu.Lock()
	defer o.seedMu.Unlock()
	// the engine's seed widget is an unsigned 53-bit value
	return o.rnd.Int63n(1 << 53)
}

// RunJob turns one image and prompt into one generated artifact. Every
// failure is returned as an annotated error: ErrUploadFailed,
// *model.ParseError, *model.NodeNotFoundError, ErrSubmitFailed,
// ErrTimedOut, ErrJobFailed, ErrNoOutput or ErrFetchFailed.
func (o *Orchestrator) RunJob(ctx context.Context, r Request) (res *Result, err error) {
	defer func() { jobCounter.WithLabelValues(outcome(err)).Inc() }()

	c := o.client.Session()
	ref, err := c.Upload(ctx, r.Image, r.ImageName, r.ContentType)
	if err != nil {
		return nil, err
	}

	g, err := o.prepare(r, ref)
	if err != nil {
		o.logger.Warn("template rejected", zap.Error(err))
		return nil, err
	}

	jobID, err := c.Submit(ctx, g)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With(zap.String("job-id", string(jobID)), zap.String("client-id", c.ClientID()))

	var wake chan struct{}
	if o.watch {
		wake = make(chan struct{}, 1)
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go o.watchJob(watchCtx, c, jobID, wake, logger)
	}

	job, err := o.poller.session(c).WaitWithWake(ctx, jobID, wake)
	if err != nil {
		return nil, err
	}

	artifact, ok := job.FirstOfType(model.ArtifactOutput)
	if !ok {
		logger.Warn("job has no output artifact", zap.Int("artifacts", len(job.Outputs)))
		return nil, errors.Annotatef(ErrNoOutput, "job %s", jobID)
	}
	data, ct, err := c.FetchWithType(ctx, artifact)
	if err != nil {
		return nil, err
	}
	logger.Info("job result fetched",
		zap.String("filename", artifact.Filename), zap.Int("bytes", len(data)))
	return &Result{JobID: jobID, Artifact: artifact, Data: data, ContentType: ct}, nil
}

func (o *Orchestrator) prepare(r Request, ref string) (*model.Graph, error) {
	path := r.TemplatePath
	if path == "" {
		path = o.workflow.Template
	}
	g, err := o.load(path)
	if err != nil {
		return nil, err
	}
	if o.workflow.SamplerClass != "" {
		g.SamplerClass = o.workflow.SamplerClass
	}
	if err := g.SetImageInput(o.workflow.ImageNode, ref); err != nil {
		return nil, errors.Trace(err)
	}
	if err := g.SetTextPrompt(o.workflow.PromptNode, r.Prompt); err != nil {
		return nil, errors.Trace(err)
	}
	if err := g.SetSeed(o.nextSeed()); err != nil {
		return nil, errors.Trace(err)
	}
	if err := g.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return g, nil
}

func (o *Orchestrator) watchJob(ctx context.Context, c *Client, id model.JobID, wake chan<- struct{}, logger *zap.Logger) {
	err := NewWatcher(c).Run(ctx, func(ev Event) {
		if ev.JobID != "" && ev.JobID != id {
			return
		}
		if o.progress != nil {
			o.progress(ev)
		}
		if ev.Done() {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		logger.Debug("progress channel closed, polling only", zap.Error(err))
	}
}

func outcome(err error) string {
	switch errors.Cause(err) {
	case nil:
		return "completed"
	case ErrTimedOut:
		return "timed_out"
	case ErrJobFailed:
		return "failed"
	case ErrNoOutput:
		return "no_output"
	case ErrUploadFailed, ErrSubmitFailed, ErrFetchFailed:
		return "transport"
	case context.Canceled, context.DeadlineExceeded:
		return "canceled"
	}
	return "invalid"
}
