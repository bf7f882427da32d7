package presence

import (
	"context"
	"log/slog"
	"sync"

	"beacon/internal/domain/entity"
	"beacon/internal/errors"
)

// ErrPipelineClosed is returned when submitting to a stopped pipeline.
var ErrPipelineClosed = errors.New("presence pipeline is closed")

// AppliedUpdate is the record of one accepted state change, handed from the
// apply workers to the broadcast dispatcher.
type AppliedUpdate struct {
	Kind     entity.EventKind
	Previous *entity.VendorPresence
	Current  *entity.VendorPresence
}

// Pipeline funnels validated vendor intents into a fixed pool of apply
// workers. An update is routed to a worker by vendor-id hash, so updates for
// the same vendor are applied in submission order while unrelated vendors
// spread across the pool. Applied updates flow out on a single queue that
// decouples fast ingestion from slow fan-out.
type Pipeline struct {
	store   *Store
	workers []chan Update
	out     chan AppliedUpdate
	done    chan struct{}
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPipeline creates a pipeline with the given pool size and queue bounds.
func NewPipeline(store *Store, workerCount, intakeQueueSize, dispatchQueueSize int, logger *slog.Logger) *Pipeline {
	workers := make([]chan Update, workerCount)
	for i := range workers {
		workers[i] = make(chan Update, intakeQueueSize)
	}

	return &Pipeline{
		store:   store,
		workers: workers,
		out:     make(chan AppliedUpdate, dispatchQueueSize),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Run starts the apply workers and blocks until ctx is cancelled. The applied
// queue is closed once every worker has stopped. Worker channels are never
// closed: a Submit racing shutdown gets ErrPipelineClosed or a context error,
// never a send on a closed channel.
func (p *Pipeline) Run(ctx context.Context) {
	for i := range p.workers {
		p.wg.Add(1)
		go p.runWorker(ctx, p.workers[i])
	}

	<-ctx.Done()

	p.mu.Lock()
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.out)
}

// Submit routes an update to its vendor's apply worker. It blocks when the
// worker queue is full, providing backpressure to the submitting connection.
func (p *Pipeline) Submit(ctx context.Context, u Update) error {
	if u.VendorID == "" {
		return ErrMissingVendorID
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()

		return ErrPipelineClosed
	}
	worker := p.workers[shardIndex(u.VendorID)%uint32(len(p.workers))]
	p.mu.Unlock()

	select {
	case worker <- u:
		return nil
	case <-p.done:
		return ErrPipelineClosed
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// Applied exposes the stream of accepted updates for the dispatcher.
func (p *Pipeline) Applied() <-chan AppliedUpdate {
	return p.out
}

func (p *Pipeline) runWorker(ctx context.Context, inbox <-chan Update) {
	defer p.wg.Done()

	for {
		var u Update
		select {
		case u = <-inbox:
		case <-ctx.Done():
			return
		}

		res, err := p.store.Apply(ctx, u)
		if err != nil {
			p.logger.Error("presence apply failed",
				slog.String("vendor_id", u.VendorID),
				slog.String("kind", string(u.Kind)),
				slog.Any("error", err),
			)

			continue
		}
		if !res.Applied {
			p.logger.Debug("stale presence update dropped",
				slog.String("vendor_id", u.VendorID),
				slog.Uint64("sequence", u.Sequence),
			)

			continue
		}

		select {
		case p.out <- AppliedUpdate{Kind: u.Kind, Previous: res.Previous, Current: res.Current}:
		case <-ctx.Done():
			return
		}
	}
}
