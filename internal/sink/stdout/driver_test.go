package stdout

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/SteelMorgan/binary-file-source/internal/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriver_Publish(t *testing.T) {
	var out bytes.Buffer
	a, err := sink.NewAdapter("stdout", sink.Options{
		Topic:      "file-binary",
		SchemaName: "filebinaryschema",
		Out:        &out,
	})
	require.NoError(t, err)
	defer a.Close()

	err = a.Publish(context.Background(), []domain.Record{
		{Resource: "/d/a.bin", Generation: 2, Before: 0, After: 3, Payload: []byte("abc")},
		{Resource: "/d/b.bin", Before: 0, After: 20, Payload: bytes.Repeat([]byte{0xff}, 20)},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		"[sink 000001] file-binary schema-name=filebinaryschema resource=/d/a.bin generation=2 offset-before=0 offset-after=3 len=3 payload=616263",
		lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "len=20 payload="+strings.Repeat("ff", 16)+"..."))
}

func TestDriver_PublishCancelled(t *testing.T) {
	var out bytes.Buffer
	a, err := sink.NewAdapter("stdout", sink.Options{Topic: "t", Out: &out})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = a.Publish(ctx, []domain.Record{{Resource: "r", Payload: []byte("x")}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String())
}
