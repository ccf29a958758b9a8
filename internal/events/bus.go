// Package events carries the sync engine's outbound domain notifications
// over an in-process watermill bus. Consumers must treat messages as
// independent, unordered facts: delivery is at-most-once per observed
// network event, but arrival order across topics is not a strict log.
package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// TopicDocsReceived carries the raw docs payload observed on the wire.
	TopicDocsReceived = "docs.received"
	// TopicProjectChanged fires when the canonical project URL changes.
	TopicProjectChanged = "project.changed"
	// TopicArtifactDeleted fires when a docs item DELETE is observed.
	TopicArtifactDeleted = "artifact.deleted"
)

// DocsReceived is the payload on TopicDocsReceived. Body is the raw JSON
// exactly as the remote service sent it; consumers parse it themselves.
type DocsReceived struct {
	OrganizationID string          `json:"organization_id"`
	ProjectID      string          `json:"project_id"`
	Body           json.RawMessage `json:"body"`
}

// ProjectChanged is the payload on TopicProjectChanged.
type ProjectChanged struct {
	ProjectID  string `json:"project_id"`
	ProjectURL string `json:"project_url"`
}

// ArtifactDeleted is the payload on TopicArtifactDeleted.
type ArtifactDeleted struct {
	ArtifactID string `json:"artifact_id"`
}

// Bus wraps a gochannel pub/sub with typed publish helpers.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *zap.Logger
}

// NewBus creates an in-process bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}),
		logger: logger,
	}
}

// PublishDocsReceived publishes the raw docs payload for a project.
func (b *Bus) PublishDocsReceived(ev DocsReceived) {
	b.publish(TopicDocsReceived, ev)
}

// PublishProjectChanged publishes a project change notification.
func (b *Bus) PublishProjectChanged(ev ProjectChanged) {
	b.publish(TopicProjectChanged, ev)
}

// PublishArtifactDeleted publishes an artifact deletion notification.
func (b *Bus) PublishArtifactDeleted(ev ArtifactDeleted) {
	b.publish(TopicArtifactDeleted, ev)
}

func (b *Bus) publish(topic string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("encode event", zap.String("topic", topic), zap.Error(err))
		return
	}
	msg := message.NewMessage(uuid.NewString(), raw)
	if err := b.pubSub.Publish(topic, msg); err != nil {
		b.logger.Error("publish event", zap.String("topic", topic), zap.Error(err))
	}
}

// Subscribe returns the raw message stream for a topic. Handlers must Ack.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubSub.Subscribe(ctx, topic)
}

// SubscribeDocsReceived decodes TopicDocsReceived messages and feeds them to
// handler on a dedicated goroutine until ctx is done. Malformed messages are
// acked and dropped so they cannot wedge the stream.
func (b *Bus) SubscribeDocsReceived(ctx context.Context, handler func(DocsReceived)) error {
	messages, err := b.pubSub.Subscribe(ctx, TopicDocsReceived)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var ev DocsReceived
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("drop malformed docs.received message", zap.Error(err))
				msg.Ack()
				continue
			}
			handler(ev)
			msg.Ack()
		}
	}()
	return nil
}

// SubscribeArtifactDeleted decodes TopicArtifactDeleted messages and feeds
// them to handler on a dedicated goroutine until ctx is done.
func (b *Bus) SubscribeArtifactDeleted(ctx context.Context, handler func(ArtifactDeleted)) error {
	messages, err := b.pubSub.Subscribe(ctx, TopicArtifactDeleted)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var ev ArtifactDeleted
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("drop malformed artifact.deleted message", zap.Error(err))
				msg.Ack()
				continue
			}
			handler(ev)
			msg.Ack()
		}
	}()
	return nil
}

// Close tears down the underlying pub/sub and all subscriber channels.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}
