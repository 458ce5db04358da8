package wire

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dumpEnableEnv = "RELAY_WIRE_DUMP"
	dumpDirEnv    = "RELAY_WIRE_DUMP_DIR"
)

// DumpFrame writes a sanitized JSON fixture for a raw frame.
//
// This is meant for capturing real client traffic during development so it
// can be replayed from testdata. Enable by setting either:
//   - `RELAY_WIRE_DUMP=1` (writes to protocol/wire/testdata/captured), or
//   - `RELAY_WIRE_DUMP_DIR=/abs/path` (writes to that directory).
//
// Signatures and long content are replaced with placeholders.
func DumpFrame(label string, raw []byte) {
	dir := os.Getenv(dumpDirEnv)
	if dir == "" {
		if os.Getenv(dumpEnableEnv) == "" {
			return
		}
		dir = filepath.Join("protocol", "wire", "testdata", "captured")
	}
	if label == "" {
		label = "unknown"
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		value = string(raw)
	}
	out, err := json.MarshalIndent(sanitize(value), "", "  ")
	if err != nil {
		return
	}
	out = append(out, '\n')

	_ = os.MkdirAll(dir, 0o755)
	name := fmt.Sprintf("%s_%d.json", safeFilename(label), time.Now().UnixNano())
	_ = os.WriteFile(filepath.Join(dir, name), out, 0o644)
}

func sanitize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = sanitizeKV(k, vv)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, vv := range t {
			out = append(out, sanitize(vv))
		}
		return out
	default:
		return v
	}
}

func sanitizeKV(key string, value any) any {
	switch key {
	case "sig":
		return strings.Repeat("0", 128)
	case "content":
		if s, ok := value.(string); ok && len(s) > 120 {
			return "<redacted>"
		}
	}
	return sanitize(value)
}

func safeFilename(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, s)
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}
