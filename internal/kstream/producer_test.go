package kstream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-backend/internal/model"
	"marketplace-backend/internal/situation"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error { return nil }

func TestPublishKeysByRequestID(t *testing.T) {
	w := &captureWriter{}
	p := &Publisher{w: w}
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), []model.Event{
		{EventID: "e1", Type: model.EventRequestCreated, RequestID: 42, ListingID: 7, OwnerUserID: 3, Situation: situation.Pending, OccurredAt: at},
		{EventID: "e2", Type: model.EventRequestResolved, RequestID: 42, ListingID: 7, RequesterUserID: 5, Situation: situation.Declined, OccurredAt: at},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)

	for _, m := range w.msgs {
		assert.Equal(t, "42", string(m.Key))
	}
	assert.Equal(t, "RequestResolved", string(w.msgs[1].Headers[0].Value))

	var evt model.Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &evt))
	assert.Equal(t, situation.Declined, evt.Situation)
	assert.Equal(t, uint(5), evt.Recipient())
	assert.Equal(t, "42:declined", evt.DedupeKey())
}
