package broadcast

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"rsvp/pkg/kafka"
	"rsvp/pkg/logger"
	"rsvp/pkg/model"
)

const (
	MessageTypeCapacityChanged = "capacity.changed"
	capacitySchemaVersion      = "1"

	relayBatchSize    = 64
	relayWriteTimeout = 5 * time.Second
)

// BatchPublisher is satisfied by *kafka.Producer.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, batch []kafka.Message) error
}

// KafkaRelay carries facts between nodes. Publish enqueues without waiting;
// Run drains the queue to Kafka. Facts that do not fit are dropped, which
// viewers recover from through their resync read.
type KafkaRelay struct {
	producer BatchPublisher
	nodeID   string
	queue    chan model.CapacityChangeFact
	log      *logger.Logger

	dropped   atomic.Int64
	forwarded atomic.Int64
}

func NewKafkaRelay(producer BatchPublisher, nodeID string, queueSize int, log *logger.Logger) *KafkaRelay {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaRelay{
		producer: producer,
		nodeID:   nodeID,
		queue:    make(chan model.CapacityChangeFact, queueSize),
		log:      log.With("component", "kafka_relay"),
	}
}

func (r *KafkaRelay) Publish(_ context.Context, fact model.CapacityChangeFact) {
	select {
	case r.queue <- fact:
	default:
		r.dropped.Add(1)
		r.log.Warn("relay queue full, dropping fact",
			"event_id", fact.EventID,
			"version", fact.Version,
		)
	}
}

// Run writes queued facts until ctx is cancelled, then flushes what is left.
func (r *KafkaRelay) Run(ctx context.Context) {
	batch := make([]model.CapacityChangeFact, 0, relayBatchSize)
	for {
		select {
		case <-ctx.Done():
			r.flushRemaining()
			return
		case fact := <-r.queue:
			batch = append(batch[:0], fact)
			batch = r.drain(batch)
			r.write(context.Background(), batch)
		}
	}
}

func (r *KafkaRelay) drain(batch []model.CapacityChangeFact) []model.CapacityChangeFact {
	for len(batch) < relayBatchSize {
		select {
		case fact := <-r.queue:
			batch = append(batch, fact)
		default:
			return batch
		}
	}
	return batch
}

func (r *KafkaRelay) flushRemaining() {
	batch := r.drain(make([]model.CapacityChangeFact, 0, relayBatchSize))
	if len(batch) > 0 {
		r.write(context.Background(), batch)
	}
}

func (r *KafkaRelay) write(ctx context.Context, facts []model.CapacityChangeFact) {
	messages := make([]kafka.Message, 0, len(facts))
	for _, fact := range facts {
		msg, err := kafka.NewMessage().
			WithKey(fact.EventID).
			WithValue(fact).
			WithMessageType(MessageTypeCapacityChanged).
			WithSchemaVersion(capacitySchemaVersion).
			WithSource(r.nodeID).
			WithHeader("version", strconv.FormatInt(fact.Version, 10)).
			Build()
		if err != nil {
			r.log.Error("failed to encode fact", "event_id", fact.EventID, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, relayWriteTimeout)
	defer cancel()
	if err := r.producer.PublishBatch(ctx, messages); err != nil {
		r.dropped.Add(int64(len(messages)))
		r.log.Error("failed to relay facts", "facts", len(messages), "error", err)
		return
	}
	r.forwarded.Add(int64(len(messages)))
}

// Handler delivers facts relayed by other nodes into local. Facts this node
// produced already reached local through Fanout and are skipped.
func (r *KafkaRelay) Handler(local Broadcaster) kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		if msg.GetSource() == r.nodeID {
			return nil
		}

		var fact model.CapacityChangeFact
		if err := msg.DecodeValue(&fact); err != nil {
			return err
		}
		if fact.EventID == "" {
			fact.EventID = msg.Key
		}
		local.Publish(ctx, fact)
		return nil
	}
}

type RelayStats struct {
	Queued    int   `json:"queued"`
	Forwarded int64 `json:"forwarded"`
	Dropped   int64 `json:"dropped"`
}

func (r *KafkaRelay) Stats() RelayStats {
	return RelayStats{
		Queued:    len(r.queue),
		Forwarded: r.forwarded.Load(),
		Dropped:   r.dropped.Load(),
	}
}
