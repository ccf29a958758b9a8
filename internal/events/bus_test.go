package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDocsReceivedRoundTrip(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan DocsReceived, 1)
	require.NoError(t, bus.SubscribeDocsReceived(ctx, func(ev DocsReceived) {
		got <- ev
	}))

	bus.PublishDocsReceived(DocsReceived{
		OrganizationID: "org-1",
		ProjectID:      "proj-1",
		Body:           json.RawMessage(`[{"uuid":"u1"}]`),
	})

	select {
	case ev := <-got:
		assert.Equal(t, "org-1", ev.OrganizationID)
		assert.Equal(t, "proj-1", ev.ProjectID)
		assert.JSONEq(t, `[{"uuid":"u1"}]`, string(ev.Body))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for docs.received")
	}
}

func TestArtifactDeletedRoundTrip(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := bus.Subscribe(ctx, TopicArtifactDeleted)
	require.NoError(t, err)

	bus.PublishArtifactDeleted(ArtifactDeleted{ArtifactID: "u1"})

	select {
	case msg := <-messages:
		var ev ArtifactDeleted
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		assert.Equal(t, "u1", ev.ArtifactID)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for artifact.deleted")
	}
}

func TestProjectChangedRoundTrip(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := bus.Subscribe(ctx, TopicProjectChanged)
	require.NoError(t, err)

	bus.PublishProjectChanged(ProjectChanged{
		ProjectID:  "proj-2",
		ProjectURL: "https://app.parchment.io/project/proj-2",
	})

	select {
	case msg := <-messages:
		var ev ProjectChanged
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		assert.Equal(t, "proj-2", ev.ProjectID)
		assert.Equal(t, "https://app.parchment.io/project/proj-2", ev.ProjectURL)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for project.changed")
	}
}
