package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Rierra/LoanCentral/internal/delivery"
	"github.com/Rierra/LoanCentral/internal/domain/reply"
	"github.com/Rierra/LoanCentral/internal/jobs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubSubscribeAndPublish(t *testing.T) {
	hub := NewHub()
	client := NewClient(nil)

	hub.Subscribe(ChannelRefunds, client)
	assert.Equal(t, 1, hub.Publish(ChannelRefunds, []byte(`{"event":"loan_refunded"}`)))

	select {
	case msg := <-client.out:
		assert.Equal(t, `{"event":"loan_refunded"}`, string(msg))
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for message")
	}

	hub.UnsubscribeAll(client)
	assert.Equal(t, 0, hub.Subscribers(ChannelRefunds))
	assert.Equal(t, 0, hub.Publish(ChannelRefunds, []byte(`{}`)))
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub()
	client := NewClient(nil)
	hub.Subscribe(ChannelReplies, client)

	for i := 0; i < cap(client.out); i++ {
		require.Equal(t, 1, hub.Publish(ChannelReplies, []byte(`{}`)))
	}
	assert.Equal(t, 0, hub.Publish(ChannelReplies, []byte(`{}`)))
}

func TestSubscriptionChannel(t *testing.T) {
	assert.Equal(t, ChannelRefunds, subscriptionChannel(subscribeMessage{Channel: " Moderators:Refunds "}))
	assert.Equal(t, ChannelReplies, subscriptionChannel(subscribeMessage{Channel: "bot:replies"}))
	assert.Equal(t, "", subscriptionChannel(subscribeMessage{Channel: "pool:repayments"}))
}

type fakeFeed struct {
	latest int64
	jobs   []jobs.OutboxJob
}

func (f *fakeFeed) LatestID(context.Context) (int64, error) { return f.latest, nil }

func (f *fakeFeed) ListSince(_ context.Context, topic string, lastID int64, limit int32) ([]jobs.OutboxJob, error) {
	out := make([]jobs.OutboxJob, 0)
	for _, j := range f.jobs {
		if j.Topic == topic && j.ID > lastID && int32(len(out)) < limit {
			out = append(out, j)
		}
	}
	return out, nil
}

func TestNotifierForwardsRefundsOnce(t *testing.T) {
	payload, err := json.Marshal(delivery.Modmail{Notification: reply.Notification{
		Subject:  "Loan refunded",
		LoanID:   7,
		Lender:   "alice",
		Borrower: "bob",
		Amount:   decimal.RequireFromString("25"),
		Currency: "USD",
	}})
	require.NoError(t, err)

	feed := &fakeFeed{jobs: []jobs.OutboxJob{
		{ID: 3, Topic: jobs.TopicModmail, Payload: payload},
		{ID: 4, Topic: jobs.TopicModmail, Payload: []byte("not json")},
	}}
	hub := NewHub()
	client := NewClient(nil)
	hub.Subscribe(ChannelRefunds, client)

	n := NewNotifier(feed, hub, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, n.tick(context.Background()))
	require.NoError(t, n.tick(context.Background()))

	require.Len(t, client.out, 1)
	var ev struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(<-client.out, &ev))
	assert.Equal(t, "loan_refunded", ev.Event)
	assert.Equal(t, "alice", ev.Data["lender"])
	assert.Equal(t, "25.00", ev.Data["amount"])
	assert.Equal(t, int64(4), n.lastIDs[jobs.TopicModmail])
}

func TestNotifierSkipsHistoryOnStart(t *testing.T) {
	payload, _ := json.Marshal(delivery.Reply{ParentID: "c1", Text: "hi"})
	feed := &fakeFeed{latest: 10, jobs: []jobs.OutboxJob{
		{ID: 9, Topic: jobs.TopicReply, Payload: payload},
		{ID: 11, Topic: jobs.TopicReply, Payload: payload},
	}}
	hub := NewHub()
	client := NewClient(nil)
	hub.Subscribe(ChannelReplies, client)

	n := NewNotifier(feed, hub, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	select {
	case msg := <-client.out:
		assert.Contains(t, string(msg), `"reply_queued"`)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reply event")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, client.out, 0)
}
