package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix namespaces pub/sub channels.
const DefaultChannelPrefix = "pai:bus:"

// RedisChannel relays messages between server replicas over Redis pub/sub.
// Each topic holds one subscription connection, opened by the first handler
// and closed when the last one unsubscribes.
type RedisChannel struct {
	client *redis.Client
	prefix string
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]*redisTopic
}

type redisTopic struct {
	sub      *redis.PubSub
	handlers map[int]Handler
	nextID   int
	done     chan struct{}
}

// NewRedisChannel creates a pub/sub channel on client.
func NewRedisChannel(client *redis.Client, logger *slog.Logger) *RedisChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisChannel{
		client: client,
		prefix: DefaultChannelPrefix,
		logger: logger,
		topics: make(map[string]*redisTopic),
	}
}

func (r *RedisChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, r.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h on the topic's shared subscription until the
// returned function is called.
func (r *RedisChannel) Subscribe(topic string, h Handler) func() {
	r.mu.Lock()
	t, ok := r.topics[topic]
	if !ok {
		t = &redisTopic{
			sub:      r.client.Subscribe(context.Background(), r.prefix+topic),
			handlers: make(map[int]Handler),
			done:     make(chan struct{}),
		}
		r.topics[topic] = t
		go r.dispatch(topic, t)
	}
	id := t.nextID
	t.nextID++
	t.handlers[id] = h
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(topic, t, id) })
	}
}

func (r *RedisChannel) unsubscribe(topic string, t *redisTopic, id int) {
	r.mu.Lock()
	delete(t.handlers, id)
	last := len(t.handlers) == 0 && r.topics[topic] == t
	if last {
		delete(r.topics, topic)
	}
	r.mu.Unlock()

	if !last {
		return
	}
	if err := t.sub.Close(); err != nil {
		r.logger.Warn("closing redis subscription", "topic", topic, "error", err)
	}
	<-t.done
}

func (r *RedisChannel) dispatch(topic string, t *redisTopic) {
	defer close(t.done)
	for m := range t.sub.Channel() {
		r.mu.Lock()
		handlers := make([]Handler, 0, len(t.handlers))
		for _, h := range t.handlers {
			handlers = append(handlers, h)
		}
		r.mu.Unlock()

		msg := Message{Topic: topic, Payload: []byte(m.Payload)}
		for _, h := range handlers {
			h(msg)
		}
	}
}

// Subscriptions returns the number of open topic subscriptions.
func (r *RedisChannel) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}
