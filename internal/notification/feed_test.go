package notification

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mediloan/mediloan/internal/logging"
)

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "feed closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestBrokerFansOut(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	first, err := b.Subscribe(ctx)
	require.NoError(t, err)
	second, err := b.Subscribe(ctx)
	require.NoError(t, err)

	change := Change{Op: OpInsert, Table: TableLoanApplications, RecordID: "loan-1", Status: "pending"}
	require.NoError(t, b.Publish(context.Background(), change))
	require.Equal(t, change, receive(t, first))
	require.Equal(t, change, receive(t, second))

	cancel()
	select {
	case _, ok := <-first:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestRedisFeedRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	feed := NewRedisFeed(client, "", logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := feed.Subscribe(ctx)
	require.NoError(t, err)

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	change := Change{Op: OpUpdate, Table: TableLoanApplications, RecordID: "loan-1", UserID: "user-1", Status: "approved", At: at}
	require.NoError(t, feed.Publish(ctx, change))
	require.Equal(t, change, receive(t, ch))
}
