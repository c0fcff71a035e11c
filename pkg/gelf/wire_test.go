package gelf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want Format
	}{
		{"empty", nil, FormatUnknown},
		{"chunked", []byte{0x1e, 0x0f, 0, 0}, FormatChunked},
		{"gzip", []byte{0x1f, 0x8b, 0x08}, FormatGzip},
		{"zlib default", []byte{0x78, 0x9c}, FormatZlib},
		{"zlib best", []byte{0x78, 0xda}, FormatZlib},
		{"zlib bad fcheck", []byte{0x78, 0x9d}, FormatUnknown},
		{"raw", []byte(`{"host":"a"}`), FormatRaw},
		{"single brace", []byte("{"), FormatRaw},
		{"plain text", []byte("hello"), FormatUnknown},
		{"lone chunk byte", []byte{0x1e}, FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "chunked", FormatChunked.String())
	assert.Equal(t, "unknown", Format(42).String())
}
