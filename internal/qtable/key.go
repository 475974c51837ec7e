package qtable

import (
	"cmp"
	"strings"
)

// Key identifies one (state, action) pair.
type Key struct {
	State  string
	Action string
}

func (k Key) compare(o Key) int {
	if c := cmp.Compare(k.State, o.State); c != 0 {
		return c
	}
	return cmp.Compare(k.Action, o.Action)
}

// Persisted keys join the two parts with NUL. Inside each part a backslash
// is written as `\\` and a NUL as `\0`, so any pair of strings round-trips.
// Keys free of both characters are the plain "state\x00action" form.
const (
	keySep    = '\x00'
	keyEscape = '\\'
)

func escapePart(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case keyEscape:
			b.WriteString(`\\`)
		case keySep:
			b.WriteString(`\0`)
		default:
			b.WriteByte(s[i])
		}
	}
}

// encodeKey returns the persisted form of k.
func encodeKey(k Key) string {
	var b strings.Builder
	b.Grow(len(k.State) + len(k.Action) + 1)
	escapePart(&b, k.State)
	b.WriteByte(keySep)
	escapePart(&b, k.Action)
	return b.String()
}

// decodeKey reverses encodeKey. A string without an unescaped separator
// decodes to (s, ""). Unknown escapes keep the escaped byte.
func decodeKey(s string) Key {
	var (
		parts [2]strings.Builder
		idx   int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == keyEscape && i+1 < len(s):
			i++
			if s[i] == '0' {
				parts[idx].WriteByte(keySep)
			} else {
				parts[idx].WriteByte(s[i])
			}
		case c == keySep && idx == 0:
			idx = 1
		default:
			parts[idx].WriteByte(c)
		}
	}
	return Key{State: parts[0].String(), Action: parts[1].String()}
}

// exportSep joins state and action in Export/Import. It is not escaped, so
// a state containing '|' does not survive a round trip.
const exportSep = "|"

func exportKey(k Key) string {
	return k.State + exportSep + k.Action
}

func importKey(s string) (Key, bool) {
	state, action, ok := strings.Cut(s, exportSep)
	return Key{State: state, Action: action}, ok
}
