package bus_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/p-n-ai/pai-quest/internal/bus"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := t.Context()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Endpoint() error = %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisChannel_PublishSubscribe(t *testing.T) {
	client := startRedis(t)
	ctx := t.Context()

	ch := bus.NewRedisChannel(client, nil)
	got := make(chan bus.Message, 1)
	unsub := ch.Subscribe(bus.TopicVideoCompleted, func(m bus.Message) {
		select {
		case got <- m:
		default:
		}
	})
	defer unsub()

	// The subscription is established asynchronously; publish until it lands.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := ch.Publish(ctx, bus.TopicVideoCompleted, bus.NewVideoCompleted("Matrices")); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		select {
		case m := <-got:
			v, err := bus.DecodeVideoCompleted(m.Payload)
			if err != nil || v.SubtopicTitle != "Matrices" {
				t.Fatalf("received %s, err %v", m.Payload, err)
			}
			return
		case <-deadline:
			t.Fatal("no message received")
		case <-tick.C:
		}
	}
}

func TestRedisChannel_HandlersShareOneConnection(t *testing.T) {
	client := startRedis(t)
	ctx := t.Context()
	channel := bus.DefaultChannelPrefix + bus.TopicVideoCompleted

	ch := bus.NewRedisChannel(client, nil)
	const handlers = 20
	var received atomic.Int32
	var unsubs []func()
	for range handlers {
		var seen atomic.Bool
		unsubs = append(unsubs, ch.Subscribe(bus.TopicVideoCompleted, func(bus.Message) {
			if seen.CompareAndSwap(false, true) {
				received.Add(1)
			}
		}))
	}
	if got := ch.Subscriptions(); got != 1 {
		t.Fatalf("Subscriptions() = %d, want 1", got)
	}

	numSub := func() int64 {
		t.Helper()
		counts, err := client.PubSubNumSub(ctx, channel).Result()
		if err != nil {
			t.Fatalf("PubSubNumSub() error = %v", err)
		}
		return counts[channel]
	}

	deadline := time.Now().Add(10 * time.Second)
	for received.Load() < handlers {
		if time.Now().After(deadline) {
			t.Fatalf("%d of %d handlers received a message", received.Load(), handlers)
		}
		if err := ch.Publish(ctx, bus.TopicVideoCompleted, bus.NewVideoCompleted("Vectors")); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if got := numSub(); got != 1 {
		t.Errorf("redis subscribers = %d, want 1", got)
	}

	for _, unsub := range unsubs {
		unsub()
	}
	if got := ch.Subscriptions(); got != 0 {
		t.Errorf("Subscriptions() after unsubscribing all = %d, want 0", got)
	}
	deadline = time.Now().Add(5 * time.Second)
	for numSub() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("redis subscription still open after last handler left")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestRedisChannel_SubscriptionsPerTopic(t *testing.T) {
	// No server is needed to track which topics hold a subscription.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	ch := bus.NewRedisChannel(client, nil)

	a1 := ch.Subscribe("a", func(bus.Message) {})
	a2 := ch.Subscribe("a", func(bus.Message) {})
	b := ch.Subscribe("b", func(bus.Message) {})
	if got := ch.Subscriptions(); got != 2 {
		t.Fatalf("Subscriptions() = %d, want 2", got)
	}

	a1()
	a1()
	if got := ch.Subscriptions(); got != 2 {
		t.Errorf("Subscriptions() with one handler left on a = %d, want 2", got)
	}
	a2()
	if got := ch.Subscriptions(); got != 1 {
		t.Errorf("Subscriptions() after a emptied = %d, want 1", got)
	}
	b()
	if got := ch.Subscriptions(); got != 0 {
		t.Errorf("Subscriptions() = %d, want 0", got)
	}
}
