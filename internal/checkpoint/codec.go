package checkpoint

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/fyrsmithlabs/kazuba/internal/models"
)

// Format constants.
const (
	Magic   = "TOON"
	Version = byte(1)

	headerLen = len(Magic) + 1
)

var (
	// ErrInvalidMagic is returned when a file does not start with Magic.
	ErrInvalidMagic = errors.New("invalid TOON magic header")

	// ErrUnsupportedVersion is returned for a version byte other than Version.
	ErrUnsupportedVersion = errors.New("unsupported TOON version")

	// ErrCorrupt is returned when the msgpack body cannot be decoded.
	ErrCorrupt = errors.New("corrupt TOON payload")
)

// Encode returns the TOON bytes for payload. Map keys are sorted so equal
// payloads encode identically; structs use their json tags.
func Encode(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.WriteByte(Version)

	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode validates the header and returns the normalised payload.
func Decode(data []byte) (map[string]any, error) {
	version, body, err := splitHeader(data)
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, fmt.Errorf("%w: %d (expected %d)", ErrUnsupportedVersion, version, Version)
	}

	r := bytes.NewReader(body)
	dec := msgpack.NewDecoder(r)
	raw, err := dec.DecodeInterface()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if r.Len() > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}

	out, ok := Normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %T, not a map", ErrCorrupt, raw)
	}
	return out, nil
}

func splitHeader(data []byte) (byte, []byte, error) {
	if len(data) < len(Magic) || string(data[:len(Magic)]) != Magic {
		n := min(len(data), len(Magic))
		return 0, nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, data[:n])
	}
	if len(data) < headerLen {
		return 0, nil, fmt.Errorf("%w: missing version byte", ErrUnsupportedVersion)
	}
	return data[len(Magic)], data[headerLen:], nil
}

// Normalize maps decoded msgpack values onto JSON-compatible types:
// integers become int64 (float64 when out of range), float32 becomes
// float64, byte slices become strings, timestamps become unix seconds and
// non-string map keys are formatted with %v.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64, int64:
		return x
	case float32:
		return float64(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return normalizeUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return normalizeUint(x)
	case []byte:
		return string(x)
	case time.Time:
		return models.UnixSeconds(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = Normalize(e)
		}
		return out
	default:
		return x
	}
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}
