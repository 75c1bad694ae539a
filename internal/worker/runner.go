package worker

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"predmarket/internal/broker"
	"predmarket/internal/lifecycle"
	"predmarket/internal/service"
)

const (
	enabledPollInterval = 5 * time.Second
	defaultRestartDelay = 5 * time.Second
)

// MessageSource is the broker surface the runner consumes from. Consume
// returning with a live context means the delivery stream died and must be
// restarted by the runner.
type MessageSource interface {
	Consume(ctx context.Context, queue string, handler broker.Handler) error
	ConsumeBroadcast(ctx context.Context, routingKey string, handler broker.Handler) error
}

// stageState accumulates one stage's counters between heartbeats and holds
// the enabled gate the heartbeat ack drives.
type stageState struct {
	processed atomic.Int64
	failed    atomic.Int64
	errored   atomic.Bool
	enabled   atomic.Bool

	errMu     sync.Mutex
	lastErr   *string
	lastErrAt *time.Time
}

func newStageState() *stageState {
	s := &stageState{}
	s.enabled.Store(true)
	return s
}

func (s *stageState) recordError(err error) {
	s.failed.Add(1)
	s.errored.Store(true)
	msg := err.Error()
	now := time.Now().UTC()
	s.errMu.Lock()
	s.lastErr = &msg
	s.lastErrAt = &now
	s.errMu.Unlock()
}

func (s *stageState) takeError() (*string, *time.Time) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	e, at := s.lastErr, s.lastErrAt
	s.lastErr, s.lastErrAt = nil, nil
	return e, at
}

// Runner owns the consumer loops for every pipeline stage plus their
// heartbeat reporting. Stages self-pause when the heartbeat ack reports
// enabled=false and resume on the next positive ack.
type Runner struct {
	InstanceID        string
	HeartbeatInterval time.Duration
	RestartDelay      time.Duration

	Broker     MessageSource
	Config     service.ConfigSource
	Heartbeats *service.HeartbeatService
	Invalidate func()

	Drafter   *Drafter
	Validator *Validator
	Publisher *Publisher
	Resolver  *Resolver
	Disputes  *DisputeWatcher

	Logger *zap.Logger
}

type stageSpec struct {
	name   string
	queues map[string]broker.Handler
	state  *stageState
}

func (r *Runner) stages() []stageSpec {
	var specs []stageSpec
	if r.Drafter != nil {
		specs = append(specs, stageSpec{
			name: "drafter",
			queues: map[string]broker.Handler{
				broker.QueueNewsRaw:    r.Drafter.HandleNews,
				broker.QueueCandidates: r.Drafter.HandleCandidate,
			},
		})
	}
	if r.Validator != nil {
		specs = append(specs, stageSpec{
			name:   "validator",
			queues: map[string]broker.Handler{broker.QueueDraftsValidate: r.Validator.Handle},
		})
	}
	if r.Publisher != nil {
		specs = append(specs, stageSpec{
			name:   "publisher",
			queues: map[string]broker.Handler{broker.QueueMarketsPublish: r.Publisher.Handle},
		})
	}
	if r.Resolver != nil {
		specs = append(specs, stageSpec{
			name:   "resolver",
			queues: map[string]broker.Handler{broker.QueueMarketsResolve: r.Resolver.Handle},
		})
	}
	if r.Disputes != nil {
		specs = append(specs, stageSpec{
			name:   "disputes",
			queues: map[string]broker.Handler{broker.QueueDisputes: r.Disputes.Handle},
		})
	}
	return specs
}

// Run blocks until ctx is canceled or a consumer fails unrecoverably.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.Broker == nil {
		return nil
	}
	if r.InstanceID == "" {
		r.InstanceID = uuid.NewString()
	}
	interval := r.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, spec := range r.stages() {
		spec := spec
		spec.state = newStageState()
		r.reportHeartbeat(ctx, spec, lifecycle.WorkerStarting)
		g.Go(func() error {
			return r.heartbeatLoop(ctx, spec, interval)
		})
		for queue, handler := range spec.queues {
			queue, handler := queue, handler
			wrapped := r.instrument(spec.state, handler)
			g.Go(func() error {
				return r.consumeLoop(ctx, queue, func(ctx context.Context) error {
					return r.Broker.Consume(ctx, queue, wrapped)
				})
			})
		}
	}
	if r.Invalidate != nil {
		g.Go(func() error {
			return r.consumeLoop(ctx, broker.QueueConfigRefresh, func(ctx context.Context) error {
				return r.Broker.ConsumeBroadcast(ctx, broker.QueueConfigRefresh, func(ctx context.Context, body []byte) error {
					r.Invalidate()
					if r.Logger != nil {
						r.Logger.Info("pipeline config cache invalidated by broadcast")
					}
					return nil
				})
			})
		})
	}
	return g.Wait()
}

// consumeLoop re-establishes a consumer whose delivery stream died (broker
// restart, channel loss) until ctx is canceled. A stage must never go
// silently dead while its heartbeats keep reporting.
func (r *Runner) consumeLoop(ctx context.Context, queue string, consume func(context.Context) error) error {
	delay := r.RestartDelay
	if delay <= 0 {
		delay = defaultRestartDelay
	}
	for {
		err := consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.Logger != nil {
			r.Logger.Warn("consumer stopped, restarting",
				zap.String("queue", queue),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// instrument wraps a stage handler with the enabled gate, the per-message
// throttle, and counter bookkeeping.
func (r *Runner) instrument(state *stageState, handler broker.Handler) broker.Handler {
	return func(ctx context.Context, body []byte) error {
		// A disabled stage holds its unacked delivery; prefetch 1 keeps the
		// broker from pushing more until re-enabled.
		for !state.enabled.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(enabledPollInterval):
			}
		}
		err := handler(ctx, body)
		if err != nil {
			state.recordError(err)
		} else {
			state.processed.Add(1)
		}
		if r.Config != nil {
			if delay := r.Config.Get(ctx).ProcessingDelayMs; delay > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(time.Duration(delay) * time.Millisecond):
				}
			}
		}
		return err
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context, spec stageSpec, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Final report so the stage shows stopped rather than silently
			// aging out of the health window.
			r.reportHeartbeat(context.WithoutCancel(ctx), spec, lifecycle.WorkerStopped)
			return ctx.Err()
		case <-ticker.C:
			status := lifecycle.WorkerIdle
			if spec.state.errored.Swap(false) {
				status = lifecycle.WorkerError
			} else if spec.state.processed.Load() > 0 || spec.state.failed.Load() > 0 {
				status = lifecycle.WorkerRunning
			}
			r.reportHeartbeat(ctx, spec, status)
		}
	}
}

func (r *Runner) reportHeartbeat(ctx context.Context, spec stageSpec, status lifecycle.WorkerStatus) {
	if r.Heartbeats == nil || spec.state == nil {
		return
	}
	lastErr, lastErrAt := spec.state.takeError()
	hostname, _ := os.Hostname()
	pid := os.Getpid()
	req := service.HeartbeatRequest{
		InstanceID:  r.InstanceID,
		Status:      string(status),
		Processed:   spec.state.processed.Swap(0),
		Failed:      spec.state.failed.Swap(0),
		LastError:   lastErr,
		LastErrorAt: lastErrAt,
		PID:         &pid,
	}
	if hostname != "" {
		req.Hostname = &hostname
	}
	ack, err := r.Heartbeats.Record(ctx, spec.name, req)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Warn("heartbeat report failed", zap.String("worker_type", spec.name), zap.Error(err))
		}
		return
	}
	if was := spec.state.enabled.Swap(ack.Enabled); was != ack.Enabled && r.Logger != nil {
		r.Logger.Info("stage enabled flag changed",
			zap.String("worker_type", spec.name),
			zap.Bool("enabled", ack.Enabled),
		)
	}
}
