package secure

import "bytes"

// Format is the result of sniffing an upload's leading and trailing bytes.
type Format int

const (
	Unrecognized Format = iota
	PNG
	JPEG
)

var (
	pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegSOI      = []byte{0xff, 0xd8}
	jpegEOI      = []byte{0xff, 0xd9}
)

// Sniff classifies data by magic bytes only. It never looks at a client supplied
// name or content type and performs no structural validation.
func Sniff(data []byte) Format {
	if bytes.HasPrefix(data, pngSignature) {
		return PNG
	}
	// SOI and EOI cannot overlap, so anything shorter than 4 bytes is rejected.
	if len(data) >= len(jpegSOI)+len(jpegEOI) &&
		bytes.HasPrefix(data, jpegSOI) && bytes.HasSuffix(data, jpegEOI) {
		return JPEG
	}
	return Unrecognized
}

// Extension returns the stored file extension. JPEG is always ".jpg".
func (f Format) Extension() string {
	switch f {
	case PNG:
		return ".png"
	case JPEG:
		return ".jpg"
	default:
		return ""
	}
}

func (f Format) ContentType() string {
	switch f {
	case PNG:
		return "image/png"
	case JPEG:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

func (f Format) String() string {
	switch f {
	case PNG:
		return "png"
	case JPEG:
		return "jpeg"
	default:
		return "unrecognized"
	}
}
