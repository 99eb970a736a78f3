// Package bus delivers cross-session notifications such as a finished video.
// Several channels implement Bus; Fanout combines them.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// TopicVideoCompleted is published when a learner finishes a video.
const TopicVideoCompleted = "video.completed"

// ErrUnsupportedTopic is returned by channels that only carry known topics.
var ErrUnsupportedTopic = errors.New("unsupported topic")

// Message is a single notification.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler consumes a message. Handlers must be idempotent: the same
// notification can arrive over more than one channel.
type Handler func(Message)

// Bus publishes and subscribes to notifications by topic.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers h for topic and returns a function that removes it.
	Subscribe(topic string, h Handler) (unsubscribe func())
}

// VideoCompleted is the payload of TopicVideoCompleted.
type VideoCompleted struct {
	Type          string `json:"type"`
	SubtopicTitle string `json:"subtopicTitle"`
}

// NewVideoCompleted encodes a video completion payload.
func NewVideoCompleted(title string) []byte {
	data, _ := json.Marshal(VideoCompleted{Type: "videoCompleted", SubtopicTitle: title})
	return data
}

// DecodeVideoCompleted decodes a video completion payload.
func DecodeVideoCompleted(payload []byte) (VideoCompleted, error) {
	var v VideoCompleted
	if err := json.Unmarshal(payload, &v); err != nil {
		return VideoCompleted{}, fmt.Errorf("decoding video completion: %w", err)
	}
	if v.SubtopicTitle == "" {
		return VideoCompleted{}, errors.New("decoding video completion: missing subtopicTitle")
	}
	return v, nil
}

// Local delivers messages synchronously to in-process subscribers.
type Local struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
}

// NewLocal creates an in-process bus.
func NewLocal() *Local {
	return &Local{subs: make(map[string]map[int]Handler)}
}

func (l *Local) Publish(_ context.Context, topic string, payload []byte) error {
	l.mu.RLock()
	handlers := make([]Handler, 0, len(l.subs[topic]))
	for _, h := range l.subs[topic] {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (l *Local) Subscribe(topic string, h Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	if l.subs[topic] == nil {
		l.subs[topic] = make(map[int]Handler)
	}
	l.subs[topic][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subs[topic], id)
			if len(l.subs[topic]) == 0 {
				delete(l.subs, topic)
			}
		})
	}
}

// Subscribers returns the number of handlers registered for topic.
func (l *Local) Subscribers(topic string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs[topic])
}

// Fanout publishes to every channel and subscribes on every channel.
type Fanout struct {
	channels []Bus
}

// NewFanout combines channels into one Bus.
func NewFanout(channels ...Bus) *Fanout {
	return &Fanout{channels: channels}
}

// Publish sends to all channels. A failing channel does not stop the others.
func (f *Fanout) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for _, c := range f.channels {
		if err := c.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Subscribe(topic string, h Handler) func() {
	unsubs := make([]func(), 0, len(f.channels))
	for _, c := range f.channels {
		unsubs = append(unsubs, c.Subscribe(topic, h))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
