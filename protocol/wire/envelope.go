package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message labels.
const (
	LabelEvent = "EVENT"
	LabelReq   = "REQ"
	LabelClose = "CLOSE"
	LabelAuth  = "AUTH"
)

// Outbound-only message labels. EVENT and AUTH are shared with inbound.
const (
	LabelOK     = "OK"
	LabelEOSE   = "EOSE"
	LabelClosed = "CLOSED"
	LabelNotice = "NOTICE"
)

// MaxSubscriptionIDLength bounds client-chosen subscription ids.
const MaxSubscriptionIDLength = 64

var (
	// ErrMalformedFrame is returned for frames that are not a non-empty JSON
	// array led by a string label.
	ErrMalformedFrame = errors.New("message must be a JSON array with a string label")
	// ErrBadSubscriptionID is returned for a missing or oversized
	// subscription id.
	ErrBadSubscriptionID = errors.New("subscription ID required")
)

// ClientMessage is an inbound frame split into its label and raw arguments.
type ClientMessage struct {
	// Label is the message type ("EVENT", "REQ", "CLOSE", "AUTH").
	Label string
	// Args are the remaining array elements, undecoded.
	Args []json.RawMessage
}

// ParseClientMessage splits an inbound frame into label and arguments.
func ParseClientMessage(frame []byte) (ClientMessage, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] != '[' {
		return ClientMessage{}, ErrMalformedFrame
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil || len(parts) == 0 {
		return ClientMessage{}, ErrMalformedFrame
	}
	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return ClientMessage{}, ErrMalformedFrame
	}
	return ClientMessage{Label: label, Args: parts[1:]}, nil
}

// DecodeSubscriptionID decodes a subscription id argument.
func DecodeSubscriptionID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", ErrBadSubscriptionID
	}
	if id == "" || len(id) > MaxSubscriptionIDLength {
		return "", ErrBadSubscriptionID
	}
	return id, nil
}

// DecodeFilters decodes every filter argument of a REQ.
func DecodeFilters(args []json.RawMessage) ([]Filter, error) {
	filters := make([]Filter, 0, len(args))
	for i, raw := range args {
		var f Filter
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func frame(parts ...any) []byte {
	raw, _ := json.Marshal(parts)
	return raw
}

// OKFrame builds ["OK", <event id>, <accepted>, <reason>].
func OKFrame(eventID string, accepted bool, reason string) []byte {
	return frame(LabelOK, eventID, accepted, reason)
}

// EventFrame builds ["EVENT", <sub id>, <event>].
func EventFrame(subID string, ev *Event) []byte {
	return frame(LabelEvent, subID, ev)
}

// EOSEFrame builds ["EOSE", <sub id>].
func EOSEFrame(subID string) []byte {
	return frame(LabelEOSE, subID)
}

// ClosedFrame builds ["CLOSED", <sub id>, <reason>].
func ClosedFrame(subID, reason string) []byte {
	return frame(LabelClosed, subID, reason)
}

// NoticeFrame builds ["NOTICE", <message>].
func NoticeFrame(msg string) []byte {
	return frame(LabelNotice, msg)
}

// AuthFrame builds ["AUTH", <challenge>].
func AuthFrame(challenge string) []byte {
	return frame(LabelAuth, challenge)
}
