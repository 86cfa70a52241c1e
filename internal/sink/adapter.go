package sink

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/SteelMorgan/binary-file-source/internal/config"
	"github.com/SteelMorgan/binary-file-source/internal/domain"
)

// Header keys attached to every published message
const (
	HeaderSchemaName   = "schema-name"
	HeaderResource     = "resource"
	HeaderGeneration   = "generation"
	HeaderOffsetBefore = "offset-before"
	HeaderOffsetAfter  = "offset-after"
	HeaderTaskID       = "task-id"
)

// Options configures an adapter
type Options struct {
	Topic      string
	SchemaName string
	TaskID     string

	Kafka config.KafkaConfig
	Out   io.Writer // stdout sink target, os.Stdout when nil
}

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(Options) error

	// Publish hands a batch downstream and returns once every record is
	// acknowledged. On error none of the batch may be treated as delivered.
	Publish(ctx context.Context, records []domain.Record) error

	Close() error
}

// Header is one message header
type Header struct {
	Key   string
	Value string
}

// Message is the typed envelope a record is wrapped into
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers []Header
}

// Envelope wraps a record for the configured topic and schema
func Envelope(opts Options, r domain.Record) Message {
	headers := []Header{
		{Key: HeaderSchemaName, Value: opts.SchemaName},
		{Key: HeaderResource, Value: r.Resource},
		{Key: HeaderGeneration, Value: strconv.FormatUint(r.Generation, 10)},
		{Key: HeaderOffsetBefore, Value: strconv.FormatInt(r.Before, 10)},
		{Key: HeaderOffsetAfter, Value: strconv.FormatInt(r.After, 10)},
	}
	if opts.TaskID != "" {
		headers = append(headers, Header{Key: HeaderTaskID, Value: opts.TaskID})
	}
	return Message{
		Topic:   opts.Topic,
		Key:     []byte(r.Resource),
		Value:   r.Payload,
		Headers: headers,
	}
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

// Register makes a driver available under name. Drivers call it from init.
func Register(name string, f factory) { reg[name] = f }

// NewAdapter builds and configures the driver registered under name
func NewAdapter(name string, opts Options) (Adapter, error) {
	f, ok := reg[name]
	if !ok {
		return nil, fmt.Errorf("unknown sink %q", name)
	}
	a := f()
	if err := a.Configure(opts); err != nil {
		return nil, fmt.Errorf("configure %s sink: %w", name, err)
	}
	return a, nil
}

// Registered lists the known driver names
func Registered() []string {
	names := make([]string, 0, len(reg))
	for name := range reg {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
