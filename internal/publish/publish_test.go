package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakimelghazi/energy-exchange/internal/engine"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func events() []engine.Event {
	return []engine.Event{
		{ID: "a", Type: engine.EventOrderAccepted, Seq: 1, OrderID: 7, Amount: decimal.NewFromInt(2), Price: decimal.RequireFromString("0.2")},
		{ID: "b", Type: engine.EventTradeExecuted, Seq: 1, OrderID: 7, TradeID: 3, Amount: decimal.NewFromInt(1), Price: decimal.RequireFromString("0.2")},
	}
}

func TestKafkaKeysByEntity(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, topic: "exchange.events"}

	require.NoError(t, k.Publish(context.Background(), events()))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "7", string(w.msgs[0].Key))
	assert.Equal(t, "3", string(w.msgs[1].Key))
	assert.Equal(t, "trade.executed", string(w.msgs[1].Headers[0].Value))

	var ev engine.Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, int64(3), ev.TradeID)
	assert.True(t, ev.Price.Equal(decimal.RequireFromString("0.2")))
}

func TestKafkaWrapsWriteError(t *testing.T) {
	k := &Kafka{writer: &fakeWriter{err: errors.New("leader not available")}, topic: "t"}
	err := k.Publish(context.Background(), events())
	assert.ErrorContains(t, err, "leader not available")

	assert.NoError(t, k.Publish(context.Background(), nil))
}

func TestMultiPublishesToAll(t *testing.T) {
	var got int
	ok := engine.PublisherFunc(func(_ context.Context, evs []engine.Event) error {
		got += len(evs)
		return nil
	})
	boom := errors.New("boom")
	bad := engine.PublisherFunc(func(context.Context, []engine.Event) error { return boom })

	err := Multi{bad, ok}.Publish(context.Background(), events())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, got)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, l.Publish(context.Background(), events()))
	assert.Contains(t, buf.String(), `"msg":"trade.executed"`)
	assert.Contains(t, buf.String(), `"component":"events"`)
}
