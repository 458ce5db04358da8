package websocket

import "github.com/bhandras/relay/protocol/wire"

// Software identifies this relay in the information document.
const (
	Software = "github.com/bhandras/relay"
	Version  = "1.0.0"
)

// SupportedNIPs lists the protocol extensions the relay implements with the
// given optional features turned on.
func SupportedNIPs(deletion, search bool) []int {
	nips := []int{1}
	if deletion {
		nips = append(nips, 9)
	}
	nips = append(nips, 11, 20, 42)
	if search {
		nips = append(nips, 50)
	}
	return nips
}

// Info is the relay information document served to clients that ask for
// application/nostr+json.
type Info struct {
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	PubKey        string     `json:"pubkey,omitempty"`
	Contact       string     `json:"contact,omitempty"`
	Icon          string     `json:"icon,omitempty"`
	SupportedNIPs []int      `json:"supported_nips"`
	Software      string     `json:"software"`
	Version       string     `json:"version"`
	Limitation    Limitation `json:"limitation"`
}

// Limitation advertises the limits the relay enforces.
type Limitation struct {
	MaxMessageLength    int   `json:"max_message_length"`
	MaxSubscriptions    int   `json:"max_subscriptions"`
	MaxFilters          int   `json:"max_filters"`
	MaxLimit            int   `json:"max_limit"`
	MaxSubIDLength      int   `json:"max_subid_length"`
	AuthRequired        bool  `json:"auth_required"`
	RestrictedWrites    bool  `json:"restricted_writes"`
	CreatedAtLowerLimit int64 `json:"created_at_lower_limit"`
	CreatedAtUpperLimit int64 `json:"created_at_upper_limit"`
}

// withDefaults fills in the fields every document must carry.
func (i Info) withDefaults() Info {
	if i.SupportedNIPs == nil {
		i.SupportedNIPs = SupportedNIPs(false, false)
	}
	if i.Software == "" {
		i.Software = Software
	}
	if i.Version == "" {
		i.Version = Version
	}
	if i.Limitation.MaxSubIDLength == 0 {
		i.Limitation.MaxSubIDLength = wire.MaxSubscriptionIDLength
	}
	return i
}
