package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"unicode/utf8"
)

// Kinds with relay-side meaning.
const (
	// KindDeletion requests tombstoning of the events referenced by "e" tags.
	KindDeletion = 5
	// KindClientAuth is the kind of an authentication proof event.
	KindClientAuth = 22242
	// EphemeralKindMin is the first kind that is relayed but never stored.
	EphemeralKindMin = 20000
	// EphemeralKindMax is the exclusive upper bound of ephemeral kinds.
	EphemeralKindMax = 30000
	// MaxKind is the largest kind accepted by the relay.
	MaxKind = 65535
)

// Tag is a single event tag. The first element is the tag type and the
// second, when present, is the value matched by filters.
type Tag []string

// Key returns the tag type, or "" for an empty tag.
func (t Tag) Key() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's primary value, or "" when absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is the ordered tag list of an event.
type Tags []Tag

// Values returns every primary value of tags with the given type.
func (ts Tags) Values(key string) []string {
	var out []string
	for _, t := range ts {
		if t.Key() == key && len(t) >= 2 {
			out = append(out, t[1])
		}
	}
	return out
}

// Find returns the first tag with the given type.
func (ts Tags) Find(key string) (Tag, bool) {
	for _, t := range ts {
		if t.Key() == key {
			return t, true
		}
	}
	return nil, false
}

// Event is a signed, content-addressed relay event.
type Event struct {
	// ID is the lowercase hex sha256 of the canonical serialization.
	ID string `json:"id"`
	// PubKey is the author's x-only public key, lowercase hex.
	PubKey string `json:"pubkey"`
	// CreatedAt is the author-supplied unix timestamp in seconds.
	CreatedAt int64 `json:"created_at"`
	// Kind is the application-defined event kind.
	Kind int `json:"kind"`
	// Tags are the event tags.
	Tags Tags `json:"tags"`
	// Content is arbitrary text.
	Content string `json:"content"`
	// Sig is the schnorr signature over ID, lowercase hex.
	Sig string `json:"sig"`
}

// IsEphemeral reports whether the event kind is relayed without storage.
func (e *Event) IsEphemeral() bool {
	return e.Kind >= EphemeralKindMin && e.Kind < EphemeralKindMax
}

// Serialize returns the canonical form hashed to produce the event id:
// [0,<pubkey>,<created_at>,<kind>,<tags>,<content>].
func (e *Event) Serialize() []byte {
	buf := make([]byte, 0, 128+len(e.Content))
	buf = append(buf, `[0,`...)
	buf = appendString(buf, e.PubKey)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, e.CreatedAt, 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(e.Kind), 10)
	buf = append(buf, ",["...)
	for i, tag := range e.Tags {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '[')
		for j, s := range tag {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = appendString(buf, s)
		}
		buf = append(buf, ']')
	}
	buf = append(buf, "],"...)
	buf = appendString(buf, e.Content)
	buf = append(buf, ']')
	return buf
}

// appendString writes s as a JSON string using the minimal escaping required
// for canonical serialization. Unlike encoding/json it leaves <, >, & and
// U+2028/U+2029 untouched and uses the short forms \b and \f.
func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			_, size := utf8.DecodeRuneInString(s[i:])
			buf = append(buf, s[i:i+size]...)
			i += size
			continue
		}
		switch c {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		default:
			if c < 0x20 {
				const hex = "0123456789abcdef"
				buf = append(buf, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xf])
			} else {
				buf = append(buf, c)
			}
		}
		i++
	}
	return append(buf, '"')
}

// Errors returned by DecodeEvent. Their text is used verbatim as the
// sub-reason of an "invalid:" rejection.
var (
	ErrNotObject       = errors.New("event must be a JSON object")
	ErrMissingFields   = errors.New("missing required fields")
	ErrFieldType       = errors.New("event field has the wrong type")
	ErrMalformedTags   = errors.New("tags must be an array of string arrays")
	ErrMalformedNumber = errors.New("numeric field out of range")
)

var requiredFields = []string{"id", "pubkey", "created_at", "kind", "tags", "content", "sig"}

// DecodeEvent parses a raw event object and checks that every required field
// is present and correctly typed. It does not check hex encodings, time
// bounds, or the signature.
func DecodeEvent(raw json.RawMessage) (*Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, ErrNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, ErrNotObject
	}
	for _, name := range requiredFields {
		v, ok := fields[name]
		if !ok || string(v) == "null" {
			return nil, ErrMissingFields
		}
	}

	ev := &Event{}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"id", &ev.ID},
		{"pubkey", &ev.PubKey},
		{"content", &ev.Content},
		{"sig", &ev.Sig},
	} {
		if err := json.Unmarshal(fields[f.name], f.dst); err != nil {
			return nil, ErrFieldType
		}
	}

	createdAt, err := decodeInt(fields["created_at"])
	if err != nil {
		return nil, err
	}
	ev.CreatedAt = createdAt

	kind, err := decodeInt(fields["kind"])
	if err != nil {
		return nil, err
	}
	if kind < 0 || kind > MaxKind {
		return nil, ErrMalformedNumber
	}
	ev.Kind = int(kind)

	if err := json.Unmarshal(fields["tags"], &ev.Tags); err != nil {
		return nil, ErrMalformedTags
	}
	if ev.Tags == nil {
		ev.Tags = Tags{}
	}
	return ev, nil
}

func decodeInt(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, ErrFieldType
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return 0, ErrFieldType
	}
	v, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || f != float64(int64(f)) {
			return 0, ErrMalformedNumber
		}
		return int64(f), nil
	}
	return v, nil
}

// PeekEventID best-effort extracts the "id" field of a raw event so that
// rejections issued before full decoding can still name the event.
func PeekEventID(raw json.RawMessage) string {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	var id string
	if err := json.Unmarshal(probe.ID, &id); err != nil {
		return ""
	}
	return id
}

// IsLowerHex reports whether s is exactly n lowercase hex characters.
func IsLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
