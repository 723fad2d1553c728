package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultQueueSize = 256

// Dispatcher hands notifications to a background worker so callers never wait
// on delivery. A full queue drops the notification.
type Dispatcher struct {
	next    Notifier
	log     *zap.Logger
	queue   chan job
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type job struct {
	channel string
	send    func(ctx context.Context) error
}

func NewDispatcher(next Notifier, queueSize int, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if timeout <= 0 {
		timeout = defaultDiscordTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{next: next, log: log, queue: make(chan job, queueSize), timeout: timeout}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := j.send(ctx); err != nil {
			d.log.Warn("notification delivery failed", zap.String("channel", j.channel), zap.Error(err))
		}
		cancel()
	}
}

func (d *Dispatcher) enqueue(channel string, send func(ctx context.Context) error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification dropped after close", zap.String("channel", channel))
		return
	}
	select {
	case d.queue <- job{channel: channel, send: send}:
	default:
		d.log.Warn("notification queue full, dropping", zap.String("channel", channel))
	}
}

// Close stops accepting work and waits for queued notifications to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) NotifyTileProgress(_ context.Context, n TileProgress) error {
	d.enqueue("tile_progress", func(ctx context.Context) error { return d.next.NotifyTileProgress(ctx, n) })
	return nil
}

func (d *Dispatcher) NotifyEffectGrant(_ context.Context, n EffectGrant) error {
	d.enqueue("effect_grant", func(ctx context.Context) error { return d.next.NotifyEffectGrant(ctx, n) })
	return nil
}

func (d *Dispatcher) NotifyEffectActivation(_ context.Context, n EffectActivation) error {
	d.enqueue("effect_activation", func(ctx context.Context) error { return d.next.NotifyEffectActivation(ctx, n) })
	return nil
}
