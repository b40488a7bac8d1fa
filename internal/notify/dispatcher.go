package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/septivank/fleetwatch/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is reported when a message is dropped because the queue is full
var ErrQueueFull = errors.New("notification queue full")

// Sink delivers one message to an external channel
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// DispatcherConfig holds queue and delivery settings
type DispatcherConfig struct {
	QueueSize     int
	Workers       int
	Timeout       time.Duration
	DefaultThread *int64
}

// Dispatcher queues messages and delivers them asynchronously. Delivery
// failures are logged and counted, never returned to the producer.
type Dispatcher struct {
	sink    Sink
	cfg     DispatcherConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	queue  chan Message
	closed bool
	group  *errgroup.Group
}

// NewDispatcher creates a dispatcher for sink
func NewDispatcher(sink Sink, cfg DispatcherConfig, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		queue:   make(chan Message, cfg.QueueSize),
	}
}

// Enqueue queues msg without blocking and reports whether it was accepted
func (d *Dispatcher) Enqueue(msg Message) bool {
	if msg.ThreadID == nil {
		msg.ThreadID = d.cfg.DefaultThread
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("notification dropped after shutdown", zap.String("kind", string(msg.Kind)))
		d.metrics.IncNotification(string(msg.Kind), "dropped")
		return false
	}

	select {
	case d.queue <- msg:
		d.metrics.SetQueueLength(len(d.queue))
		return true
	default:
		d.logger.Error("failed to enqueue notification",
			zap.Error(ErrQueueFull),
			zap.String("kind", string(msg.Kind)),
			zap.Int64("board", msg.BoardNumber),
		)
		d.metrics.IncNotification(string(msg.Kind), "dropped")
		return false
	}
}

// Start launches the delivery workers
func (d *Dispatcher) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.work(gctx)
			return nil
		})
	}
	d.group = g

	d.logger.Info("notification dispatcher started",
		zap.String("sink", d.sink.Name()),
		zap.Int("workers", d.cfg.Workers),
		zap.Int("queue_size", d.cfg.QueueSize),
	)
}

// Stop closes the queue and waits for workers to drain it
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	if d.group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for msg := range d.queue {
		d.metrics.SetQueueLength(len(d.queue))
		d.deliver(ctx, msg)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	if err := d.sink.Send(sendCtx, msg); err != nil {
		d.logger.Error("failed to deliver notification",
			zap.Error(err),
			zap.String("sink", d.sink.Name()),
			zap.String("kind", string(msg.Kind)),
			zap.Int64("board", msg.BoardNumber),
			zap.String("message_id", msg.ID.String()),
		)
		d.metrics.IncNotification(string(msg.Kind), "failed")
		return
	}

	d.logger.Debug("notification delivered",
		zap.String("sink", d.sink.Name()),
		zap.String("kind", string(msg.Kind)),
		zap.Int64("board", msg.BoardNumber),
	)
	d.metrics.IncNotification(string(msg.Kind), "sent")
}
