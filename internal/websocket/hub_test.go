package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/prappser/prappser_uploads/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func receive(t *testing.T, client *Client) interface{} {
	t.Helper()
	select {
	case message := <-client.send:
		return message
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHub_Notify_ShouldDeliverToSubscribers(t *testing.T) {
	// given
	hub := startHub(t)
	subscriber := NewClient(hub, nil)
	bystander := NewClient(hub, nil)
	require.True(t, hub.Register(subscriber))
	require.True(t, hub.Register(bystander))
	require.NoError(t, subscriber.Subscribe("100-filetxt"))
	require.NoError(t, bystander.Subscribe("200-othertxt"))

	// when
	hub.Notify(upload.ProgressEvent{SessionID: "100-filetxt", Status: upload.StatusChunkStored, ChunkIndex: 1, ChunksStored: 1})

	// then
	message, ok := receive(t, subscriber).(*ProgressMessage)
	require.True(t, ok)
	assert.Equal(t, MessageTypeProgress, message.Type)
	assert.Equal(t, "100-filetxt", message.SessionID)
	assert.Equal(t, 1, message.ChunkIndex)

	select {
	case unexpected := <-bystander.send:
		t.Fatalf("bystander received %v", unexpected)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_Unregister_ShouldDropSubscriptions(t *testing.T) {
	// given
	hub := startHub(t)
	client := NewClient(hub, nil)
	require.True(t, hub.Register(client))
	require.NoError(t, client.Subscribe("100-filetxt"))

	// when
	hub.Unregister(client)

	// then
	assert.Eventually(t, func() bool {
		clients, subscriptions := hub.GetStats()
		return clients == 0 && subscriptions == 0
	}, time.Second, 10*time.Millisecond)
	assert.False(t, client.trySend(&OutgoingMessage{Type: MessageTypePong}))
}

func TestHub_Register_ShouldFailAfterStop(t *testing.T) {
	// given
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// when
	registered := hub.Register(NewClient(hub, nil))

	// then
	assert.False(t, registered)
}

func TestClient_Subscribe_ShouldRejectInvalidSessionID(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil)

	err := client.Subscribe("../escape")

	assert.Error(t, err)
	assert.Empty(t, client.Subscriptions())
}

func TestClient_HandleMessage_ShouldAnswerPing(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil)

	client.handleMessage(&IncomingMessage{Type: MessageTypePing})

	message, ok := receive(t, client).(*OutgoingMessage)
	require.True(t, ok)
	assert.Equal(t, MessageTypePong, message.Type)
}
