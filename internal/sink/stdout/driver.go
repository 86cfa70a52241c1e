package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/SteelMorgan/binary-file-source/internal/sink"
)

// previewBytes caps the hex payload preview printed per record
const previewBytes = 16

/* ────────── driver ────────── */
type driver struct {
	opts sink.Options

	mu  sync.Mutex // guards out+seq
	out io.Writer
	seq uint64
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(opts sink.Options) error {
	d.opts = opts
	d.out = opts.Out
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

// Publish prints one line per record. A write error fails the whole batch.
func (d *driver) Publish(ctx context.Context, records []domain.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.seq++
		if _, err := fmt.Fprintln(d.out, d.line(r)); err != nil {
			return fmt.Errorf("stdout-sink: %w", err)
		}
	}
	return nil
}

func (d *driver) Close() error { return nil }

/* ────────── internals ────────── */

func (d *driver) line(r domain.Record) string {
	msg := sink.Envelope(d.opts, r)

	var b strings.Builder
	fmt.Fprintf(&b, "[sink %06d] %s", d.seq, msg.Topic)
	for _, h := range msg.Headers {
		fmt.Fprintf(&b, " %s=%s", h.Key, h.Value)
	}

	preview := msg.Value
	if len(preview) > previewBytes {
		preview = preview[:previewBytes]
	}
	fmt.Fprintf(&b, " len=%d payload=%x", len(msg.Value), preview)
	if len(msg.Value) > previewBytes {
		b.WriteString("...")
	}
	return b.String()
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
