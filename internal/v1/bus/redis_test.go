package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilServiceNoOps(t *testing.T) {
	s, err := NewService("", "", "pod-a")
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, s.PublishRoom(ctx, 1, "message:upsert", map[string]int{"id": 1}))
	assert.NoError(t, s.PublishUser(ctx, 2, "message_copied", nil))
	assert.NoError(t, s.Ping(ctx))
	assert.NoError(t, s.Close())
	assert.Nil(t, s.Client())
}

func TestPublishRoomCrossInstance(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := NewService(mr.Addr(), "", "pod-a")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewService(mr.Addr(), "", "pod-b")
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan PubSubPayload, 1)
	var wg sync.WaitGroup
	b.SubscribeRooms(ctx, &wg, func(p PubSubPayload) {
		received <- p
	})

	// Give the PSUBSCRIBE a moment to register.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, a.PublishRoom(ctx, 42, "message:upsert", map[string]any{"id": 7}))

	select {
	case p := <-received:
		assert.Equal(t, int64(42), p.RoomID)
		assert.Equal(t, "message:upsert", p.Event)
		assert.Equal(t, "pod-a", p.Origin)
		var body map[string]any
		require.NoError(t, json.Unmarshal(p.Payload, &body))
		assert.Equal(t, float64(7), body["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cross-instance payload")
	}

	cancel()
	wg.Wait()
}

func TestSubscribeSkipsOwnEcho(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := NewService(mr.Addr(), "", "pod-a")
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan PubSubPayload, 1)
	var wg sync.WaitGroup
	a.SubscribeUsers(ctx, &wg, func(p PubSubPayload) {
		received <- p
	})
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, a.PublishUser(ctx, 9, "message_copied", map[string]int{"messageId": 1}))

	select {
	case <-received:
		t.Fatal("instance must not receive its own publish")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	wg.Wait()
}
