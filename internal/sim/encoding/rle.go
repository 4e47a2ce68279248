package encoding

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// Run is a stretch of identical cells.
type Run struct {
	Value byte
	Len   int
}

// Runs splits cells into maximal runs.
func Runs(cells []byte) []Run {
	var out []Run
	for _, c := range cells {
		if n := len(out); n > 0 && out[n-1].Value == c {
			out[n-1].Len++
			continue
		}
		out = append(out, Run{Value: c, Len: 1})
	}
	return out
}

// EncodeRLE packs cells as uvarint (value, length) pairs, base64 encoded.
func EncodeRLE(cells []byte) string {
	var raw []byte
	for _, r := range Runs(cells) {
		raw = binary.AppendUvarint(raw, uint64(r.Value))
		raw = binary.AppendUvarint(raw, uint64(r.Len))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

var errTruncated = errors.New("rle: truncated pair")

// DecodeRLE reverses EncodeRLE. No more than limit cells are produced.
func DecodeRLE(s string, limit int) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("rle: %w", err)
	}
	out := make([]byte, 0, limit)
	for off := 0; off < len(raw); {
		v, n := binary.Uvarint(raw[off:])
		if n <= 0 {
			return nil, fmt.Errorf("%w at byte %d", errTruncated, off)
		}
		off += n
		l, n := binary.Uvarint(raw[off:])
		if n <= 0 {
			return nil, fmt.Errorf("%w at byte %d", errTruncated, off)
		}
		off += n

		switch {
		case v > 0xFF:
			return nil, fmt.Errorf("rle: value %d does not fit a byte", v)
		case l == 0:
			return nil, fmt.Errorf("rle: empty run at byte %d", off)
		case l > uint64(limit-len(out)):
			return nil, fmt.Errorf("rle: %d cells exceed limit %d", uint64(len(out))+l, limit)
		}
		for i := uint64(0); i < l; i++ {
			out = append(out, byte(v))
		}
	}
	return out, nil
}
