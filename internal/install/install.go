// Package install relays mass-transfer progress from the device layer to
// a host callback without ever blocking the producer.
package install

import (
	"context"

	"github.com/google/uuid"

	"wearbridge/internal/device"
	"wearbridge/internal/errors"
	"wearbridge/internal/metrics"
	"wearbridge/internal/queue"
	"wearbridge/util"
)

// Notify is the producer handle handed to the transfer.  It never
// blocks.
type Notify func(device.Progress)

// StartFunc begins a transfer.  It receives the producer handle and
// returns the channel that will carry the terminal result.
type StartFunc func(notify Notify) (<-chan error, error)

// Pipeline runs transfers and relays their progress.
type Pipeline struct {
	logger  *util.Logger
	metrics *metrics.Collector
}

// New creates a Pipeline.  metrics may be nil.
func New(logger *util.Logger, m *metrics.Collector) *Pipeline {
	if logger == nil {
		logger = util.NewLogger(int(util.LogNormal))
	}
	return &Pipeline{logger: logger, metrics: m}
}

// Run starts a transfer through start and waits for its terminal
// result.  When onProgress is non-nil every event is queued and
// delivered in order by a forwarder goroutine; otherwise events are
// discarded at the producer.  A failed transfer returns a
// TransferError.  Events already queued when Run returns are still
// delivered.
func (p *Pipeline) Run(ctx context.Context, onProgress func(device.Progress), start StartFunc) error {
	log := p.logger.With("install", uuid.NewString()[:8])

	notify, stop := p.relay(log, onProgress)
	defer stop()

	result, err := start(notify)
	if err != nil {
		log.Warn("transfer did not start: %v", err)
		p.metrics.RecordError(err.Error())
		return &errors.TransferError{Cause: err}
	}

	select {
	case err, ok := <-result:
		if !ok {
			err = errors.New("transfer result not received")
		}
		if err != nil {
			log.Warn("transfer failed: %v", err)
			p.metrics.RecordError(err.Error())
			return &errors.TransferError{Cause: err}
		}
		log.Info("transfer complete")
		return nil
	case <-ctx.Done():
		log.Warn("transfer abandoned: %v", ctx.Err())
		return ctx.Err()
	}
}

// relay builds the producer handle.  stop drops it: later events are
// discarded and the forwarder exits once the queue is drained.
func (p *Pipeline) relay(log *util.Logger, onProgress func(device.Progress)) (Notify, func()) {
	if onProgress == nil {
		return func(device.Progress) { p.metrics.ProgressDropped() }, func() {}
	}

	q := queue.New[device.Progress]()
	go p.forward(log, q, onProgress)

	notify := func(pr device.Progress) {
		if !q.Push(pr) {
			p.metrics.ProgressDropped()
		}
	}
	return notify, q.Close
}

func (p *Pipeline) forward(log *util.Logger, q *queue.Unbounded[device.Progress], onProgress func(device.Progress)) {
	for {
		pr, ok := q.Pop(context.Background())
		if !ok {
			return
		}
		deliver(log, onProgress, pr)
		p.metrics.ProgressRelayed()
	}
}

func deliver(log *util.Logger, onProgress func(device.Progress), pr device.Progress) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("progress callback panicked: %v", r)
		}
	}()
	onProgress(pr)
}
