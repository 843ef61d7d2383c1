// Package events publishes notifications about persisted pyramid tiles.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// TileEvent announces that a tile was written.
type TileEvent struct {
	Pyramid string    `json:"pyramid"`
	Mosaic  string    `json:"mosaic"`
	Col     int       `json:"col"`
	Row     int       `json:"row"`
	TS      time.Time `json:"ts"`
}

// Notifier receives tile events. Implementations must not block the writer.
type Notifier interface {
	TileWritten(ctx context.Context, ev TileEvent)
}

// Nop discards events.
type Nop struct{}

func (Nop) TileWritten(context.Context, TileEvent) {}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []TileEvent
}

func (r *Recorder) TileWritten(_ context.Context, ev TileEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []TileEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TileEvent(nil), r.events...)
}

// KafkaNotifier publishes events as JSON through an async producer. Events
// are queued and dropped when the queue is full.
type KafkaNotifier struct {
	topic   string
	log     zerolog.Logger
	events  chan TileEvent
	prod    sarama.AsyncProducer
	stopped chan struct{}
}

// NewKafkaNotifier connects to brokers.
func NewKafkaNotifier(brokers []string, topic string, queueSize int, log zerolog.Logger) (*KafkaNotifier, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return NewKafkaNotifierWithProducer(prod, topic, queueSize, log), nil
}

// NewKafkaNotifierWithProducer wraps an existing producer.
func NewKafkaNotifierWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log zerolog.Logger) *KafkaNotifier {
	if queueSize <= 0 {
		queueSize = 1024
	}
	k := &KafkaNotifier{
		topic:   topic,
		log:     log,
		events:  make(chan TileEvent, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(k.stopped)
		for ev := range k.events {
			b, err := json.Marshal(ev)
			if err != nil {
				k.log.Error().Err(err).Msg("events: marshal")
				continue
			}
			k.prod.Input() <- &sarama.ProducerMessage{
				Topic: k.topic,
				Key:   sarama.StringEncoder(ev.Pyramid + "/" + ev.Mosaic),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range k.prod.Errors() {
			if err != nil {
				k.log.Warn().Err(err).Msg("events: producer error")
			}
		}
	}()

	return k
}

func (k *KafkaNotifier) TileWritten(_ context.Context, ev TileEvent) {
	select {
	case k.events <- ev:
	default:
		// queue full: drop rather than stall tile writes
	}
}

// Close drains the queue and closes the producer.
func (k *KafkaNotifier) Close() error {
	close(k.events)
	<-k.stopped
	if err := k.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
