package relay

// Config holds the protocol limits and feature switches of the engine.
type Config struct {
	// AuthRequired makes publishing and subscribing require a proven key.
	AuthRequired bool
	// MaxEventSize bounds the serialized size of a published event.
	MaxEventSize int
	// MaxFilters bounds the number of filters in one subscription.
	MaxFilters int
	// MaxLimit is the ceiling on backlog size, per filter and overall.
	MaxLimit int
	// DefaultLimit applies to filters without a limit.
	DefaultLimit int
	// CreatedAtLower and CreatedAtUpper bound accepted created_at values.
	CreatedAtLower int64
	CreatedAtUpper int64
	// EnableSearch permits the search filter field.
	EnableSearch bool
	// EnableDeletion applies kind 5 deletion requests.
	EnableDeletion bool
	// EnableEphemeral relays ephemeral kinds without storing them.
	EnableEphemeral bool
}

// DefaultConfig returns the stock relay limits.
func DefaultConfig() Config {
	return Config{
		AuthRequired:    true,
		MaxEventSize:    65536,
		MaxFilters:      10,
		MaxLimit:        5000,
		DefaultLimit:    500,
		CreatedAtLower:  1577836800,
		CreatedAtUpper:  32503680000,
		EnableSearch:    true,
		EnableDeletion:  true,
		EnableEphemeral: true,
	}
}

// clampLimit applies the default and the ceiling to a requested limit.
func (c Config) clampLimit(requested int) int {
	limit := requested
	if limit <= 0 {
		limit = c.DefaultLimit
	}
	if c.MaxLimit > 0 && limit > c.MaxLimit {
		limit = c.MaxLimit
	}
	if limit <= 0 {
		limit = 1
	}
	return limit
}
