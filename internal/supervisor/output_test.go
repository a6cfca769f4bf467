package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(5)
	n, err := b.Write([]byte("abc"))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	n, _ = b.Write([]byte("defgh"))
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde", string(b.Bytes()))
	assert.True(t, b.Truncated())
}

func TestUnwrapEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		text    string
		isError bool
		ok      bool
	}{
		{name: "plain text", raw: "just markdown", ok: false},
		{name: "single result", raw: `{"type":"result","result":"hello","is_error":false}`, text: "hello", ok: true},
		{name: "error result", raw: `{"type":"result","result":"quota","is_error":true}`, text: "quota", isError: true, ok: true},
		{name: "other object", raw: `{"type":"system","result":"x"}`, ok: false},
		{name: "missing result", raw: `{"type":"result"}`, ok: false},
		{
			name: "json lines",
			raw:  "{\"type\":\"system\"}\n{\"type\":\"assistant\"}\n{\"type\":\"result\",\"result\":\"final\"}\n",
			text: "final", ok: true,
		},
		{name: "broken json", raw: `{"type":"result","result":`, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isError, ok := unwrapEnvelope([]byte(tt.raw))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.text, text)
			assert.Equal(t, tt.isError, isError)
		})
	}
}
