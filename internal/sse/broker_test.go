package sse

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paynow/approval-server/internal/model"
	redisclient "github.com/paynow/approval-server/internal/redis"
)

func setupTestBroker(t *testing.T) *Broker {
	t.Helper()
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/15"
	}
	client, err := redisclient.NewClient(redisURL)
	if err != nil {
		t.Skip("Redis not available for testing")
	}
	broker := NewBroker(client)
	t.Cleanup(func() {
		broker.Close()
		client.Close()
	})
	return broker
}

func TestBroker_SubscribeUnsubscribe(t *testing.T) {
	broker := setupTestBroker(t)

	a := broker.Subscribe(OperatorTopic)
	b := broker.Subscribe(OperatorTopic)
	other := broker.Subscribe("audit")

	assert.Equal(t, 2, broker.ClientCount(OperatorTopic))
	assert.Equal(t, 3, broker.TotalClients())

	broker.Unsubscribe(a)
	broker.Unsubscribe(a)
	assert.Equal(t, 1, broker.ClientCount(OperatorTopic))

	select {
	case <-a.Done:
	default:
		t.Fatal("unsubscribed client should be done")
	}

	broker.Unsubscribe(b)
	broker.Unsubscribe(other)
	assert.Equal(t, 0, broker.TotalClients())
}

func TestBroker_Notify(t *testing.T) {
	broker := setupTestBroker(t)
	client := broker.Subscribe(OperatorTopic)
	defer broker.Unsubscribe(client)

	// Give the pub/sub subscription time to register before publishing.
	time.Sleep(100 * time.Millisecond)

	err := broker.Notify(context.Background(), model.OperatorEvent{
		Type:      model.OperatorEventApprovalRequested,
		SessionID: "s1",
		Status:    model.SessionStatusPending,
	})
	require.NoError(t, err)

	select {
	case event := <-client.Events:
		assert.Equal(t, string(model.OperatorEventApprovalRequested), event.Type)
		var got model.OperatorEvent
		require.NoError(t, json.Unmarshal(event.Data, &got))
		assert.Equal(t, "s1", got.SessionID)
		assert.Equal(t, model.SessionStatusPending, got.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBroker_Close(t *testing.T) {
	broker := setupTestBroker(t)
	client := broker.Subscribe(OperatorTopic)

	broker.Close()

	select {
	case <-client.Done:
	default:
		t.Fatal("close should release subscribers")
	}
	assert.Equal(t, 0, broker.TotalClients())

	// Unsubscribing after close must not double-close Done.
	broker.Unsubscribe(client)
}

func TestEventChannel(t *testing.T) {
	assert.Equal(t, "checkout:events:operators", redisclient.EventChannel(OperatorTopic))
}
