package relay

import "github.com/bhandras/relay/protocol/wire"

// verdict is the result of one validation step. The zero value accepts.
type verdict struct {
	prefix string
	reason string
}

func accept() verdict { return verdict{} }

func reject(prefix, format string, args ...any) verdict {
	return verdict{prefix: prefix, reason: wire.Reason(prefix, format, args...)}
}

// OK reports whether the step passed.
func (v verdict) OK() bool { return v.reason == "" }

// Reason returns the client-facing reason, empty on success.
func (v verdict) Reason() string { return v.reason }

// Outcome returns the metrics label for the verdict.
func (v verdict) Outcome() string {
	if v.OK() {
		return "accepted"
	}
	return v.prefix
}
