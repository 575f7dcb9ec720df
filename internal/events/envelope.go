// Package events models the daemon's event log: envelopes, the closed set of
// typed payloads, JSON decoding and dispatch to typed handlers.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the event discriminator as it appears on the wire.
type Type string

const (
	TypeStateChanged       Type = "StateChanged"
	TypeItemStarted        Type = "ItemStarted"
	TypeItemFinished       Type = "ItemFinished"
	TypeDownloadProgress   Type = "DownloadProgress"
	TypeDeviceConnected    Type = "DeviceConnected"
	TypeDeviceDisconnected Type = "DeviceDisconnected"
	TypeDevicePaused       Type = "DevicePaused"
	TypeDeviceResumed      Type = "DeviceResumed"
	TypeDeviceRejected     Type = "DeviceRejected"
	TypeFolderRejected     Type = "FolderRejected"
	TypeConfigSaved        Type = "ConfigSaved"
	TypeFolderSummary      Type = "FolderSummary"
	TypeFolderErrors       Type = "FolderErrors"
	TypeStartupComplete    Type = "StartupComplete"
	TypeRemoteIndexUpdated Type = "RemoteIndexUpdated"
	TypeLocalIndexUpdated  Type = "LocalIndexUpdated"
	TypePing               Type = "Ping"
)

// ErrInvalidPayload marks an envelope whose data does not satisfy its type.
var ErrInvalidPayload = errors.New("invalid event payload")

// Payload is the typed data of one event. The set of implementations is
// closed; see Dispatch.
type Payload interface {
	Valid() bool
	isPayload()
}

// Envelope is one entry of the remote event log.
type Envelope struct {
	ID      int64
	Type    Type
	Time    time.Time
	Payload Payload
	Raw     json.RawMessage

	decodeErr error
}

// Valid reports whether the payload decoded and passes its type's checks.
func (e Envelope) Valid() bool {
	return e.decodeErr == nil && e.Payload != nil && e.Payload.Valid()
}

// Err explains why an envelope is not valid, or returns nil.
func (e Envelope) Err() error {
	switch {
	case e.decodeErr != nil:
		return fmt.Errorf("%w: %s event %d: %w", ErrInvalidPayload, e.Type, e.ID, e.decodeErr)
	case e.Payload == nil:
		return fmt.Errorf("%w: %s event %d has no payload", ErrInvalidPayload, e.Type, e.ID)
	case !e.Payload.Valid():
		return fmt.Errorf("%w: %s event %d is missing required fields", ErrInvalidPayload, e.Type, e.ID)
	}
	return nil
}

func (e Envelope) String() string {
	return fmt.Sprintf("<Event id=%d type=%s time=%s data=%s>",
		e.ID, e.Type, e.Time.Format(time.RFC3339Nano), compactRaw(e.Raw))
}

func compactRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	const max = 256
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
