package publisher

import (
	"context"
	"sync"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ifuryst/reposter/internal/config"
	"github.com/ifuryst/reposter/internal/service/publisher/wall"
)

// UploadJob is one photo to copy onto a destination.
type UploadJob struct {
	Token       string
	Destination string
	URL         string
	Filename    string
}

type uploadOutcome struct {
	ref string
	err error
}

type uploadRequest struct {
	ctx  context.Context
	job  UploadJob
	done chan uploadOutcome
}

// UploadQueue is the process-wide FIFO for photo uploads. A single drain
// goroutine handles one job at a time, paced by a rate limiter, and retries
// transient platform errors with exponential backoff.
type UploadQueue struct {
	platform Platform
	cfg      config.UploadQueueConfig
	logger   *zap.Logger
	limiter  *rate.Limiter

	jobs   chan *uploadRequest
	stopCh chan struct{}
	doneCh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewUploadQueue(platform Platform, cfg *config.UploadQueueConfig, logger *zap.Logger) *UploadQueue {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 1
	}
	return &UploadQueue{
		platform: platform,
		cfg:      *cfg,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(cfg.Interval), 1),
		jobs:     make(chan *uploadRequest, buffer),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (q *UploadQueue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.logger.Info("Starting upload queue",
			zap.Duration("interval", q.cfg.Interval),
			zap.Uint("max_attempts", q.cfg.MaxAttempts))
		go q.drain(ctx)
	})
}

// Stop ends the drain loop and fails every job still waiting.
func (q *UploadQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		started := true
		q.startOnce.Do(func() { started = false })
		if started {
			<-q.doneCh
		} else {
			close(q.doneCh)
		}
		q.logger.Info("Upload queue stopped")
	})
}

// Upload enqueues job and blocks until it has been handled. The returned ref
// is the destination-native attachment reference.
func (q *UploadQueue) Upload(ctx context.Context, job UploadJob) (string, error) {
	req := &uploadRequest{ctx: ctx, job: job, done: make(chan uploadOutcome, 1)}

	select {
	case q.jobs <- req:
	case <-q.stopCh:
		return "", ErrQueueStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case out := <-req.done:
		return out.ref, out.err
	case <-q.doneCh:
		select {
		case out := <-req.done:
			return out.ref, out.err
		default:
			return "", ErrQueueStopped
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *UploadQueue) drain(ctx context.Context) {
	defer close(q.doneCh)
	defer q.rejectPending()

	for {
		// stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case req := <-q.jobs:
			ref, err := q.handle(req)
			req.done <- uploadOutcome{ref: ref, err: err}
		}
	}
}

func (q *UploadQueue) rejectPending() {
	for {
		select {
		case req := <-q.jobs:
			req.done <- uploadOutcome{err: ErrQueueStopped}
		default:
			return
		}
	}
}

func (q *UploadQueue) handle(req *uploadRequest) (string, error) {
	ctx := req.ctx
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := q.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var (
		data []byte
		ref  string
	)
	err := retry.Do(
		func() error {
			if data == nil {
				b, err := q.platform.Download(ctx, req.job.URL)
				if err != nil {
					return err
				}
				data = b
			}
			target, err := q.platform.NegotiateUpload(ctx, req.job.Token, wall.MediaPhoto, req.job.Destination)
			if err != nil {
				return err
			}
			receipt, err := q.platform.UploadBinary(ctx, target, req.job.Filename, data)
			if err != nil {
				return err
			}
			ref, err = q.platform.SaveAttachment(ctx, req.job.Token, wall.MediaPhoto, req.job.Destination, target, receipt)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(q.cfg.MaxAttempts),
		retry.Delay(q.cfg.BaseDelay),
		retry.MaxDelay(q.cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(wall.IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			q.logger.Warn("Photo upload failed, retrying",
				zap.String("destination", req.job.Destination),
				zap.String("url", req.job.URL),
				zap.Uint("attempt", n+1),
				zap.String("kind", wall.KindOf(err).String()),
				zap.Error(err))
		}),
	)
	if err != nil {
		return "", err
	}
	return ref, nil
}
