package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"students-registry/internal/shared/eventbus"
	"students-registry/internal/shared/logger"
	"students-registry/internal/shared/utils"

	"github.com/redis/go-redis/v9"
)

// StreamAdder is the subset of the Redis client the sink needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// queueSize bounds the events waiting for Redis. Further events are dropped.
const queueSize = 256

// RedisEventSink appends student change events to a Redis Stream so other services can
// consume them with XREAD / consumer groups. Once registered it writes from its own
// goroutine in publish order, so a slow or unreachable Redis never holds up a request.
type RedisEventSink struct {
	client  StreamAdder
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  logger.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan queuedEvent
	done    chan struct{}
	start   sync.Once
	started bool
	base    context.Context
	cancel  context.CancelFunc
}

type queuedEvent struct {
	requestID string
	event     eventbus.Event
}

// NewRedisEventSink creates a sink writing to stream, trimmed approximately to maxLen entries
// (0 disables trimming). Each write is bounded by timeout; zero means no bound of its own.
func NewRedisEventSink(client StreamAdder, stream string, maxLen int64, timeout time.Duration, log logger.Logger) *RedisEventSink {
	if log == nil {
		log = logger.NewNopLogger()
	}
	base, cancel := context.WithCancel(context.Background())
	return &RedisEventSink{
		client:  client,
		stream:  stream,
		maxLen:  maxLen,
		timeout: timeout,
		logger:  log.WithComponent("redis_event_sink"),
		queue:   make(chan queuedEvent, queueSize),
		done:    make(chan struct{}),
		base:    base,
		cancel:  cancel,
	}
}

// Register starts the writer and subscribes the sink to eventTypes on bus.
func (s *RedisEventSink) Register(bus eventbus.EventBusInterface, eventTypes []string) {
	s.start.Do(func() {
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		go s.run()
	})
	bus.SubscribeAll(eventTypes, s.Enqueue)
}

// Enqueue is an eventbus.Handler that hands event to the writer and returns at once.
// Events arriving after Close or while the queue is full are logged and dropped.
func (s *RedisEventSink) Enqueue(ctx context.Context, event eventbus.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.logger.WithContext(ctx).Debugf("Sink closed, not appending %s", event.Type())
		return nil
	}

	q := queuedEvent{event: event}
	if rid, err := utils.GetRequestIDFromContext(ctx); err == nil {
		q.requestID = rid
	}

	select {
	case s.queue <- q:
	default:
		s.logger.WithContext(ctx).Warnf("Stream %s is falling behind, dropping %s", s.stream, event.Type())
	}
	return nil
}

func (s *RedisEventSink) run() {
	defer close(s.done)
	for q := range s.queue {
		_ = s.deliver(q)
	}
}

// deliver writes one queued event. Failures are already logged by Handle.
func (s *RedisEventSink) deliver(q queuedEvent) error {
	ctx := s.base
	if q.requestID != "" {
		ctx = utils.WithRequestID(ctx, q.requestID)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.Handle(ctx, q.event)
}

// Close stops accepting events, aborts the write in flight and waits for the writer to
// drain what is left. It is safe to call more than once.
func (s *RedisEventSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if started {
		<-s.done
	}
}

// Handle is an eventbus.Handler writing one stream entry per event.
func (s *RedisEventSink) Handle(ctx context.Context, event eventbus.Event) error {
	payload, err := json.Marshal(event.Data())
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event.Type(), err)
	}

	values := map[string]interface{}{
		"type":      event.Type(),
		"source":    event.Source(),
		"timestamp": event.Timestamp().UnixNano(),
		"data":      string(payload),
	}
	if rid, err := utils.GetRequestIDFromContext(ctx); err == nil && rid != "" {
		values["request_id"] = rid
	}

	args := &redis.XAddArgs{Stream: s.stream, Values: values}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		s.logger.WithContext(ctx).Errorf("Failed to append %s to stream %s: %v", event.Type(), s.stream, err)
		return fmt.Errorf("append %s to stream %s: %w", event.Type(), s.stream, err)
	}

	s.logger.WithContext(ctx).Debugf("Appended %s to stream %s as %s", event.Type(), s.stream, id)
	return nil
}
