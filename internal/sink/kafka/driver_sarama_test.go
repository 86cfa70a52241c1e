package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/SteelMorgan/binary-file-source/internal/config"
	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/SteelMorgan/binary-file-source/internal/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() sink.Options {
	return sink.Options{
		Topic:      "file-binary",
		SchemaName: "filebinaryschema",
		TaskID:     "task-1",
		Kafka:      config.KafkaConfig{Brokers: []string{"localhost:9092"}, RequiredAcks: -1, ClientID: "test"},
	}
}

func headerMap(msg *sarama.ProducerMessage) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func TestDriver_PublishWrapsRecords(t *testing.T) {
	p := mocks.NewSyncProducer(t, ProducerConfig(testOptions()))
	p.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "file-binary" {
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "/d/a.bin" {
			return fmt.Errorf("unexpected key %q", key)
		}
		want := map[string]string{
			sink.HeaderSchemaName:   "filebinaryschema",
			sink.HeaderResource:     "/d/a.bin",
			sink.HeaderGeneration:   "1",
			sink.HeaderOffsetBefore: "0",
			sink.HeaderOffsetAfter:  "4",
			sink.HeaderTaskID:       "task-1",
		}
		got := headerMap(msg)
		for k, v := range want {
			if got[k] != v {
				return fmt.Errorf("header %s = %q, want %q", k, got[k], v)
			}
		}
		return nil
	})
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "4567" {
			return fmt.Errorf("unexpected payload %q", val)
		}
		return nil
	})

	d := NewWithProducer(testOptions(), p)
	err := d.Publish(context.Background(), []domain.Record{
		{Resource: "/d/a.bin", Generation: 1, Before: 0, After: 4, Payload: []byte("0123")},
		{Resource: "/d/a.bin", Generation: 1, Before: 4, After: 8, Payload: []byte("4567")},
	})
	require.NoError(t, err)
	require.NoError(t, d.Close())
}

func TestDriver_PublishFailure(t *testing.T) {
	p := mocks.NewSyncProducer(t, ProducerConfig(testOptions()))
	p.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)

	d := NewWithProducer(testOptions(), p)
	err := d.Publish(context.Background(), []domain.Record{{Resource: "r", Payload: []byte("x")}})
	require.Error(t, err)
	require.NoError(t, d.Close())
}

func TestDriver_EmptyBatch(t *testing.T) {
	p := mocks.NewSyncProducer(t, ProducerConfig(testOptions()))
	d := NewWithProducer(testOptions(), p)

	require.NoError(t, d.Publish(context.Background(), nil))
	require.NoError(t, d.Close())
}

func TestProducerConfig(t *testing.T) {
	sc := ProducerConfig(testOptions())
	assert.True(t, sc.Producer.Return.Successes)
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, "test", sc.ClientID)
}

func TestConfigure_MissingBrokers(t *testing.T) {
	opts := testOptions()
	opts.Kafka.Brokers = nil

	_, err := sink.NewAdapter("kafka", opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfigurationMissing))
}
