package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformedFilter is returned when a filter object cannot be decoded.
var ErrMalformedFilter = errors.New("malformed filter")

// Filter is a client-supplied query over events.
//
// A nil slice or pointer means the constraint is absent. A present but empty
// list matches nothing.
type Filter struct {
	// IDs restricts matches to these event ids.
	IDs []string
	// Authors restricts matches to these author keys.
	Authors []string
	// Kinds restricts matches to these kinds.
	Kinds []int
	// Since is the inclusive lower bound on created_at.
	Since *int64
	// Until is the inclusive upper bound on created_at.
	Until *int64
	// Limit caps the backlog returned for this filter. Zero means "server
	// default".
	Limit int
	// Search is a free-text query over content.
	Search string
	// Tags maps a tag type (the "x" of a "#x" key) to accepted values.
	Tags map[string][]string
}

type filterFields struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Search  string   `json:"search,omitempty"`
}

// UnmarshalJSON decodes a filter object, collecting "#x" keys into Tags.
// Unknown keys are ignored.
func (f *Filter) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return ErrMalformedFilter
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ErrMalformedFilter
	}

	out := Filter{}
	for key, value := range raw {
		var err error
		switch {
		case key == "ids":
			err = decodeList(value, &out.IDs)
		case key == "authors":
			err = decodeList(value, &out.Authors)
		case key == "kinds":
			err = decodeList(value, &out.Kinds)
		case key == "since":
			out.Since, err = decodeOptionalInt(value)
		case key == "until":
			out.Until, err = decodeOptionalInt(value)
		case key == "limit":
			var n *int64
			n, err = decodeOptionalInt(value)
			if err == nil && n != nil {
				if *n < 0 {
					err = ErrMalformedFilter
				} else {
					out.Limit = int(*n)
				}
			}
		case key == "search":
			err = json.Unmarshal(value, &out.Search)
		case strings.HasPrefix(key, "#") && len(key) > 1:
			var values []string
			err = decodeList(value, &values)
			if err == nil && values != nil {
				if out.Tags == nil {
					out.Tags = make(map[string][]string)
				}
				out.Tags[key[1:]] = values
			}
		}
		if err != nil {
			return fmt.Errorf("%w: %s", ErrMalformedFilter, key)
		}
	}
	*f = out
	return nil
}

// MarshalJSON encodes the filter with its tag constraints as "#x" keys.
func (f Filter) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(filterFields{
		IDs:     f.IDs,
		Authors: f.Authors,
		Kinds:   f.Kinds,
		Since:   f.Since,
		Until:   f.Until,
		Limit:   f.Limit,
		Search:  f.Search,
	})
	if err != nil || len(f.Tags) == 0 {
		return base, err
	}

	keys := make([]string, 0, len(f.Tags))
	for k := range f.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := bytes.NewBuffer(base[:len(base)-1])
	for _, k := range keys {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal("#" + k)
		values, err := json.Marshal(f.Tags[k])
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(values)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeList decodes a JSON array into dst, leaving dst nil for JSON null and
// non-nil (possibly empty) for any array.
func decodeList[T any](raw json.RawMessage, dst *[]T) error {
	if string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if out == nil {
		out = []T{}
	}
	*dst = out
	return nil
}

func decodeOptionalInt(raw json.RawMessage) (*int64, error) {
	if string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	n, err := decodeInt(raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
