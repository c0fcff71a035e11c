// Package gelf implements the GELF over UDP wire format: chunk framing,
// payload compression and the JSON message schema.
package gelf

// Wire limits.
const (
	// MaxDatagramSize is the largest payload a single UDP datagram can carry.
	MaxDatagramSize = 65507

	// ChunkSize is the default datagram size used when splitting a message.
	// Should be less than (MTU - len(UDP header)).
	ChunkSize = 1420

	// ChunkHeaderLen is magic(2) + message id(8) + sequence index(1) + sequence count(1).
	ChunkHeaderLen = 12

	// MaxChunks is the protocol ceiling on chunks per message.
	MaxChunks = 128
)

var (
	magicChunked = [2]byte{0x1e, 0x0f}
	magicGzip    = [2]byte{0x1f, 0x8b}
)

// zlibMethodDeflate is the CMF byte for deflate with a 32K window, which is
// what every zlib producer emits in practice.
const zlibMethodDeflate = 0x78

// Format is the framing of a datagram or a reassembled payload, decided by
// its leading bytes.
type Format int

const (
	FormatUnknown Format = iota
	FormatChunked
	FormatGzip
	FormatZlib
	FormatRaw
)

func (f Format) String() string {
	switch f {
	case FormatChunked:
		return "chunked"
	case FormatGzip:
		return "gzip"
	case FormatZlib:
		return "zlib"
	case FormatRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Classify inspects the leading bytes of b.
func Classify(b []byte) Format {
	if len(b) == 0 {
		return FormatUnknown
	}
	if len(b) >= 2 {
		switch [2]byte{b[0], b[1]} {
		case magicChunked:
			return FormatChunked
		case magicGzip:
			return FormatGzip
		}
		// zlib header: CMF=0x78 and (CMF<<8 | FLG) is a multiple of 31.
		if b[0] == zlibMethodDeflate && (uint16(b[0])<<8|uint16(b[1]))%31 == 0 {
			return FormatZlib
		}
	}
	if b[0] == '{' {
		return FormatRaw
	}
	return FormatUnknown
}
