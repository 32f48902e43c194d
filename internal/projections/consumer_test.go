package projections

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketplace-backend/internal/deadletter"
	"marketplace-backend/internal/model"
	"marketplace-backend/internal/situation"
)

type sliceReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *sliceReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *sliceReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *sliceReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type memoryDLQ struct {
	mu   sync.Mutex
	recs []deadletter.Record
}

func (d *memoryDLQ) Write(_ context.Context, rec deadletter.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recs = append(d.recs, rec)
	return nil
}

func message(t *testing.T, offset int64, evt model.Event) kafka.Message {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return kafka.Message{Topic: "marketplace.requests", Offset: offset, Value: data}
}

func TestRunProjectsOnceAndCommitsEverything(t *testing.T) {
	created := model.Event{EventID: "a", Type: model.EventRequestCreated, RequestID: 1, ListingID: 9, OwnerUserID: 10, RequesterUserID: 20, Situation: situation.Pending}
	resolved := model.Event{EventID: "b", Type: model.EventRequestResolved, RequestID: 1, ListingID: 9, OwnerUserID: 10, RequesterUserID: 20, Situation: situation.Concluded}

	r := &sliceReader{msgs: []kafka.Message{
		message(t, 0, created),
		message(t, 1, resolved),
		{Topic: "marketplace.requests", Offset: 2, Value: []byte("{not json")},
		message(t, 3, resolved),
	}}
	dlq := &memoryDLQ{}
	feed := NewMemoryFeed(10)
	p := NewProjector(feed, dlq, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, r) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	ownerFeed, err := p.Recent(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, ownerFeed, 1)
	assert.Equal(t, situation.Pending, ownerFeed[0].Situation)

	requesterFeed, err := p.Recent(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, requesterFeed, 1)
	assert.Equal(t, situation.Concluded, requesterFeed[0].Situation)

	require.Len(t, dlq.recs, 1)
	assert.EqualValues(t, 2, dlq.recs[0].Offset)
	assert.Equal(t, "{not json", dlq.recs[0].Value)
}

type flakyFeed struct {
	*MemoryFeed
	failures int
}

func (f *flakyFeed) Push(ctx context.Context, userID uint, n Notification) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("redis unavailable")
	}
	return f.MemoryFeed.Push(ctx, userID, n)
}

func TestApplyReleasesDedupeKeyOnFailure(t *testing.T) {
	feed := &flakyFeed{MemoryFeed: NewMemoryFeed(10), failures: 1}
	p := NewProjector(feed, &memoryDLQ{}, zap.NewNop())
	evt := model.Event{EventID: "x", Type: model.EventRequestCreated, RequestID: 3, OwnerUserID: 7, Situation: situation.Pending}

	require.Error(t, p.Apply(context.Background(), evt))
	require.NoError(t, p.Apply(context.Background(), evt))

	got, err := feed.Recent(context.Background(), 7, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryFeedIsCapped(t *testing.T) {
	feed := NewMemoryFeed(2)
	ctx := context.Background()
	for i := uint(1); i <= 3; i++ {
		require.NoError(t, feed.Push(ctx, 1, Notification{RequestID: i, Situation: situation.Pending}))
	}
	got, err := feed.Recent(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint(3), got[0].RequestID)
	assert.Equal(t, uint(2), got[1].RequestID)
}
