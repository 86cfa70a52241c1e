package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/SteelMorgan/binary-file-source/internal/sink"
	"github.com/rs/zerolog/log"
)

type driver struct {
	opts sink.Options
	p    sarama.SyncProducer
}

// NewWithProducer builds a configured driver around an existing producer
func NewWithProducer(opts sink.Options, p sarama.SyncProducer) sink.Adapter {
	return &driver{opts: opts, p: p}
}

// ProducerConfig is the sarama configuration used for the sink: synchronous
// delivery reports so a batch is only acknowledged once every message is.
func ProducerConfig(opts sink.Options) *sarama.Config {
	sc := sarama.NewConfig()
	if opts.Kafka.ClientID != "" {
		sc.ClientID = opts.Kafka.ClientID
	}
	sc.Producer.RequiredAcks = sarama.RequiredAcks(opts.Kafka.RequiredAcks)
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	return sc
}

func (d *driver) Configure(opts sink.Options) error {
	if len(opts.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka-sink: %w: brokers", domain.ErrConfigurationMissing)
	}
	if opts.Topic == "" {
		return fmt.Errorf("kafka-sink: %w: topic", domain.ErrConfigurationMissing)
	}
	d.opts = opts

	p, err := sarama.NewSyncProducer(opts.Kafka.Brokers, ProducerConfig(opts))
	if err != nil {
		return fmt.Errorf("kafka-sink: failed to create producer: %w", err)
	}
	d.p = p

	log.Info().
		Strs("brokers", opts.Kafka.Brokers).
		Str("topic", opts.Topic).
		Int("required_acks", opts.Kafka.RequiredAcks).
		Msg("Kafka sink connected")
	return nil
}

func (d *driver) Publish(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, len(records))
	for i, r := range records {
		msgs[i] = toProducerMessage(sink.Envelope(d.opts, r))
	}

	// Same key per resource keeps a resource's chunks on one partition, in order
	if err := d.p.SendMessages(msgs); err != nil {
		return fmt.Errorf("kafka-sink: send %d messages to %s: %w", len(msgs), d.opts.Topic, err)
	}

	log.Debug().
		Str("topic", d.opts.Topic).
		Int("messages", len(msgs)).
		Msg("Batch acknowledged by Kafka")
	return nil
}

func (d *driver) Close() error {
	if d.p == nil {
		return nil
	}
	err := d.p.Close()
	d.p = nil
	return err
}

func toProducerMessage(m sink.Message) *sarama.ProducerMessage {
	headers := make([]sarama.RecordHeader, len(m.Headers))
	for i, h := range m.Headers {
		headers[i] = sarama.RecordHeader{Key: []byte(h.Key), Value: []byte(h.Value)}
	}
	return &sarama.ProducerMessage{
		Topic:   m.Topic,
		Key:     sarama.ByteEncoder(m.Key),
		Value:   sarama.ByteEncoder(m.Value),
		Headers: headers,
	}
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
