package bus

import (
	"context"
	"fmt"

	"github.com/p-n-ai/pai-quest/internal/kv"
)

// StorageChannel carries video completions through the key-value scope:
// publishing writes the completion key and subscribers are woken by the
// store's change watch. Rewriting an existing flag wakes nobody.
type StorageChannel struct {
	store kv.Store
}

// NewStorageChannel creates a channel over store.
func NewStorageChannel(store kv.Store) *StorageChannel {
	return &StorageChannel{store: store}
}

func (s *StorageChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic != TopicVideoCompleted {
		return fmt.Errorf("storage channel %q: %w", topic, ErrUnsupportedTopic)
	}
	v, err := DecodeVideoCompleted(payload)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, kv.VideoCompletedKey(v.SubtopicTitle), kv.TrueValue); err != nil {
		return fmt.Errorf("writing completion flag: %w", err)
	}
	return nil
}

// Subscribe watches completion keys. Topics other than TopicVideoCompleted
// never fire.
func (s *StorageChannel) Subscribe(topic string, h Handler) func() {
	if topic != TopicVideoCompleted {
		return func() {}
	}
	return s.store.Watch(kv.VideoCompletedPrefix, func(c kv.Change) {
		if c.Value != kv.TrueValue {
			return
		}
		title, ok := kv.TitleFromVideoCompletedKey(c.Key)
		if !ok {
			return
		}
		h(Message{Topic: TopicVideoCompleted, Payload: NewVideoCompleted(title)})
	})
}
