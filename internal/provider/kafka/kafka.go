// Package kafka samples the most recent event of a topic, giving the
// mapping layer a representative schema sample.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/avast/retry-go"
	"github.com/tidwall/gjson"

	"chmap/internal/event"
	"chmap/internal/mapping"
)

// Options configures the Kafka connection.
type Options struct {
	Brokers []string

	// SASL plain credentials; empty Username disables SASL.
	Username string
	Password string
	UseTLS   bool

	// MaxRetries bounds sampling retries. If <= 0, defaults to 3.
	MaxRetries uint
}

// Sample is one captured event from a topic.
type Sample struct {
	Topic     string
	Partition int32
	Offset    int64
	Event     []byte
}

// Source converts the sample into a mapping source. Verified types, when
// available from an upstream schema-verification step, are supplied by
// the caller.
func (s Sample) Source(verified map[string]event.Type) mapping.Source {
	return mapping.Source{Topic: s.Topic, Event: s.Event, VerifiedTypes: verified}
}

// ErrEmptyTopic reports a topic with no messages on any partition.
var ErrEmptyTopic = errors.New("kafka: topic has no messages")

// ErrNotJSON reports a sampled message whose value is not valid JSON.
var ErrNotJSON = errors.New("kafka: sampled message is not valid JSON")

// Sampler fetches the latest event per topic.
type Sampler struct {
	client     sarama.Client
	maxRetries uint
}

// NewSampler connects to the brokers. The connection is shared across
// Sample calls; callers own Close.
func NewSampler(opts Options) (*Sampler, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "chmap-sampler"
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	if opts.Username != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		cfg.Net.SASL.User = opts.Username
		cfg.Net.SASL.Password = opts.Password
	}
	if opts.UseTLS {
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := sarama.NewClient(opts.Brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: connect: %w", err)
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &Sampler{client: client, maxRetries: maxRetries}, nil
}

// Sample fetches the most recent message of a topic, scanning partitions
// in order and taking the first non-empty one. The message value must be
// JSON; anything else fails with ErrNotJSON since the mapping layer can
// only flatten JSON documents.
func (s *Sampler) Sample(ctx context.Context, topic string) (Sample, error) {
	var out Sample
	err := retry.Do(
		func() error {
			sample, err := s.sampleOnce(topic)
			if err != nil {
				return err
			}
			out = sample
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.maxRetries),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Empty or non-JSON topics will not improve on retry.
			return !errors.Is(err, ErrEmptyTopic) && !errors.Is(err, ErrNotJSON)
		}),
	)
	return out, err
}

func (s *Sampler) sampleOnce(topic string) (Sample, error) {
	partitions, err := s.client.Partitions(topic)
	if err != nil {
		return Sample{}, fmt.Errorf("kafka: partitions of %q: %w", topic, err)
	}

	consumer, err := sarama.NewConsumerFromClient(s.client)
	if err != nil {
		return Sample{}, fmt.Errorf("kafka: consumer: %w", err)
	}
	defer consumer.Close()

	for _, partition := range partitions {
		newest, err := s.client.GetOffset(topic, partition, sarama.OffsetNewest)
		if err != nil {
			return Sample{}, fmt.Errorf("kafka: newest offset of %q[%d]: %w", topic, partition, err)
		}
		oldest, err := s.client.GetOffset(topic, partition, sarama.OffsetOldest)
		if err != nil {
			return Sample{}, fmt.Errorf("kafka: oldest offset of %q[%d]: %w", topic, partition, err)
		}
		if newest <= oldest {
			continue
		}

		msg, err := consumeOne(consumer, topic, partition, newest-1)
		if err != nil {
			return Sample{}, err
		}
		return validateSample(topic, partition, msg)
	}
	return Sample{}, fmt.Errorf("%w: %q", ErrEmptyTopic, topic)
}

func consumeOne(consumer sarama.Consumer, topic string, partition int32, offset int64) (*sarama.ConsumerMessage, error) {
	pc, err := consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, fmt.Errorf("kafka: consume %q[%d]@%d: %w", topic, partition, offset, err)
	}
	defer pc.Close()

	select {
	case msg := <-pc.Messages():
		return msg, nil
	case err := <-pc.Errors():
		return nil, fmt.Errorf("kafka: consume %q[%d]@%d: %w", topic, partition, offset, err)
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("kafka: consume %q[%d]@%d: timed out", topic, partition, offset)
	}
}

// Topics lists topics visible on the cluster.
func (s *Sampler) Topics() ([]string, error) {
	topics, err := s.client.Topics()
	if err != nil {
		return nil, fmt.Errorf("kafka: list topics: %w", err)
	}
	return topics, nil
}

// Close releases the client connection.
func (s *Sampler) Close() error {
	return s.client.Close()
}

// validateSample wraps a consumed message into a Sample after checking
// that the payload is JSON. Split out for testability.
func validateSample(topic string, partition int32, msg *sarama.ConsumerMessage) (Sample, error) {
	if msg == nil || !gjson.ValidBytes(msg.Value) {
		return Sample{}, fmt.Errorf("%w: topic %q", ErrNotJSON, topic)
	}
	return Sample{
		Topic:     topic,
		Partition: partition,
		Offset:    msg.Offset,
		Event:     msg.Value,
	}, nil
}
