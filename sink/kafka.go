// Package sink carries a stream to somewhere other than a client socket
package sink

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// A Producer is the part of *kgo.Client the sink uses
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaWriter is an io.Writer that turns each Write into one record. The
// emitter writes exactly one value per call, so one record is one value.
type KafkaWriter struct {
	ctx      context.Context
	producer Producer
	topic    string
	key      []byte
}

// NewKafkaWriter returns a writer producing to topic, keyed by the session
// so all of one session's values land on one partition in order.
func NewKafkaWriter(ctx context.Context, producer Producer, topic, sessionID string) *KafkaWriter {
	return &KafkaWriter{
		ctx:      ctx,
		producer: producer,
		topic:    topic,
		key:      []byte(sessionID),
	}
}

func (w *KafkaWriter) Write(p []byte) (int, error) {
	// The emitter reuses its buffer
	value := make([]byte, len(p))
	copy(value, p)

	record := &kgo.Record{Topic: w.topic, Key: w.key, Value: value}
	if err := w.producer.ProduceSync(w.ctx, record).FirstErr(); err != nil {
		return 0, fmt.Errorf("failed to produce to %s: %w", w.topic, err)
	}

	return len(p), nil
}

// NewProducer connects to the brokers and makes sure the topic exists
func NewProducer(brokers []string, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RetryTimeout(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	if err := ensureTopic(client, topic); err != nil {
		client.Close()
		return nil, err
	}

	log.Infof("Producing values to Kafka topic %s via %v", topic, brokers)
	return client, nil
}

func ensureTopic(client *kgo.Client, topic string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	req := kmsg.NewPtrCreateTopicsRequest()
	reqTopic := kmsg.NewCreateTopicsRequestTopic()
	reqTopic.Topic = topic
	reqTopic.NumPartitions = 1
	reqTopic.ReplicationFactor = 1
	req.Topics = append(req.Topics, reqTopic)

	resp, err := req.RequestWith(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}

	for _, t := range resp.Topics {
		if err := kerr.ErrorForCode(t.ErrorCode); err != nil && err != kerr.TopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %w", t.Topic, err)
		}
	}

	return nil
}
