package notify

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/rekberpay/internal/realtime"
)

func TestHubPublisher_SkipsOfflineUsers(t *testing.T) {
	hub := realtime.NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	p := NewHubPublisher(hub)
	require.NoError(t, p.Publish(context.Background(), &Notification{ID: "n-1", UserID: 10, Type: "escrow_created"}))
	assert.Equal(t, int64(0), hub.Stats()["totalEvents"].(int64))

	cancel()
	time.Sleep(20 * time.Millisecond)
}
