package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaNotifier_PublishesJSON(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	prod := mocks.NewAsyncProducer(t, cfg)

	var got TileEvent
	prod.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		return json.Unmarshal(val, &got)
	})

	k := NewKafkaNotifierWithProducer(prod, "tiles", 4, zerolog.Nop())
	ev := TileEvent{Pyramid: "dem", Mosaic: "m0", Col: 3, Row: 4, TS: time.Unix(10, 0).UTC()}
	k.TileWritten(context.Background(), ev)

	select {
	case msg := <-prod.Successes():
		assert.Equal(t, "tiles", msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "dem/m0", string(key))
	case <-time.After(5 * time.Second):
		t.Fatal("no message produced")
	}
	require.NoError(t, k.Close())
	assert.Equal(t, ev, got)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	var n Notifier = &r
	n.TileWritten(context.Background(), TileEvent{Col: 1})
	Nop{}.TileWritten(context.Background(), TileEvent{})
	require.Len(t, r.Events(), 1)
	assert.Equal(t, 1, r.Events()[0].Col)
}

var _ sarama.AsyncProducer = (*mocks.AsyncProducer)(nil)
