package events

import (
	"encoding/json"
	"fmt"
	"time"
)

type wireEvent struct {
	ID   int64           `json:"id"`
	Type Type            `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

type decodeFunc func(raw json.RawMessage) (Payload, error)

// decoders maps each modelled discriminator to its payload decoder. Adding a
// category means adding one entry here and one case in Dispatch.
var decoders = map[Type]decodeFunc{
	TypeStateChanged:       decodeAs[StateChanged],
	TypeItemStarted:        decodeAs[ItemStarted],
	TypeItemFinished:       decodeAs[ItemFinished],
	TypeDownloadProgress:   decodeAs[DownloadProgress],
	TypeDeviceConnected:    decodeAs[DeviceConnected],
	TypeDeviceDisconnected: decodeAs[DeviceDisconnected],
	TypeDevicePaused:       decodeAs[DevicePaused],
	TypeDeviceResumed:      decodeAs[DeviceResumed],
	TypeDeviceRejected:     decodeAs[DeviceRejected],
	TypeFolderRejected:     decodeAs[FolderRejected],
	TypeConfigSaved:        decodeAs[ConfigSaved],
	TypeFolderSummary:      decodeAs[FolderSummary],
	TypeFolderErrors:       decodeAs[FolderErrors],
	TypeStartupComplete:    decodeAs[StartupComplete],
	TypeRemoteIndexUpdated: decodeAs[RemoteIndexUpdated],
	TypeLocalIndexUpdated:  decodeAs[LocalIndexUpdated],
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// Known reports whether t has a typed payload.
func Known(t Type) bool {
	_, ok := decoders[t]
	return ok
}

// DecodeBatch decodes a JSON array of events. A malformed envelope fails the
// whole batch; a malformed payload only invalidates its own envelope.
func DecodeBatch(data []byte) ([]Envelope, error) {
	var wire []wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode event batch: %w", err)
	}
	out := make([]Envelope, 0, len(wire))
	for _, w := range wire {
		out = append(out, fromWire(w))
	}
	return out, nil
}

// Decode decodes a single JSON event object.
func Decode(data []byte) (Envelope, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode event: %w", err)
	}
	return fromWire(w), nil
}

func fromWire(w wireEvent) Envelope {
	env := Envelope{ID: w.ID, Type: w.Type, Time: w.Time, Raw: w.Data}
	decode, ok := decoders[w.Type]
	if !ok {
		env.Payload = Generic{Type: w.Type, Data: w.Data}
		return env
	}
	if isNull(w.Data) {
		return env
	}
	p, err := decode(w.Data)
	if err != nil {
		env.decodeErr = err
		return env
	}
	env.Payload = p
	return env
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// New builds an envelope around an already typed payload.
func New(id int64, t time.Time, p Payload) Envelope {
	env := Envelope{ID: id, Time: t, Payload: p}
	env.Type = TypeOf(p)
	if g, ok := p.(Generic); ok {
		env.Raw = g.Data
		return env
	}
	if raw, err := json.Marshal(p); err == nil {
		env.Raw = raw
	}
	return env
}

// TypeOf returns the wire discriminator for a payload.
func TypeOf(p Payload) Type {
	switch p := p.(type) {
	case StateChanged:
		return TypeStateChanged
	case ItemStarted:
		return TypeItemStarted
	case ItemFinished:
		return TypeItemFinished
	case DownloadProgress:
		return TypeDownloadProgress
	case DeviceConnected:
		return TypeDeviceConnected
	case DeviceDisconnected:
		return TypeDeviceDisconnected
	case DevicePaused:
		return TypeDevicePaused
	case DeviceResumed:
		return TypeDeviceResumed
	case DeviceRejected:
		return TypeDeviceRejected
	case FolderRejected:
		return TypeFolderRejected
	case ConfigSaved:
		return TypeConfigSaved
	case FolderSummary:
		return TypeFolderSummary
	case FolderErrors:
		return TypeFolderErrors
	case StartupComplete:
		return TypeStartupComplete
	case RemoteIndexUpdated:
		return TypeRemoteIndexUpdated
	case LocalIndexUpdated:
		return TypeLocalIndexUpdated
	case Generic:
		return p.Type
	default:
		return ""
	}
}
