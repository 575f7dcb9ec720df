package events

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const sampleBatch = `[
  {"id": 43, "globalID": 1043, "type": "StateChanged", "time": "2026-10-19T10:00:00.123456789Z",
   "data": {"folder": "default", "from": "idle", "to": "syncing", "duration": 1.5}},
  {"id": 44, "type": "ItemFinished", "time": "2026-10-19T10:00:01Z",
   "data": {"folder": "default", "item": "docs/a.txt", "type": "file", "action": "update", "error": "permission denied"}},
  {"id": 45, "type": "LocalIndexUpdated", "time": "2026-10-19T10:00:02Z",
   "data": {"folder": "default", "items": 3}},
  {"id": 46, "type": "ListenAddressesChanged", "time": "2026-10-19T10:00:03Z",
   "data": {"address": "tcp://0.0.0.0:22000"}},
  {"id": 47, "type": "DeviceConnected", "time": "2026-10-19T10:00:04Z", "data": null},
  {"id": 48, "type": "FolderSummary", "time": "2026-10-19T10:00:05Z", "data": {"folder": 12}}
]`

func TestDecodeBatch(t *testing.T) {
	batch, err := DecodeBatch([]byte(sampleBatch))
	if err != nil {
		t.Fatalf("DecodeBatch() error: %v", err)
	}
	if len(batch) != 6 {
		t.Fatalf("len(batch) = %d, want 6", len(batch))
	}

	sc, ok := batch[0].Payload.(StateChanged)
	if !ok {
		t.Fatalf("batch[0] payload = %T, want StateChanged", batch[0].Payload)
	}
	if sc.Folder != "default" || sc.From != "idle" || sc.To != "syncing" || sc.Duration != 1.5 {
		t.Errorf("StateChanged = %+v", sc)
	}
	if batch[0].ID != 43 || batch[0].Type != TypeStateChanged {
		t.Errorf("envelope = id %d type %s", batch[0].ID, batch[0].Type)
	}
	wantTime := time.Date(2026, 10, 19, 10, 0, 0, 123456789, time.UTC)
	if !batch[0].Time.Equal(wantTime) {
		t.Errorf("time = %s, want %s", batch[0].Time, wantTime)
	}

	fin := batch[1].Payload.(ItemFinished)
	if fin.Err() != "permission denied" || fin.Action != ActionUpdate || fin.Type != ItemFile {
		t.Errorf("ItemFinished = %+v", fin)
	}

	if _, ok := batch[2].Payload.(LocalIndexUpdated); !ok {
		t.Errorf("batch[2] payload = %T, want LocalIndexUpdated", batch[2].Payload)
	}

	g, ok := batch[3].Payload.(Generic)
	if !ok {
		t.Fatalf("unknown type payload = %T, want Generic", batch[3].Payload)
	}
	if g.Type != "ListenAddressesChanged" {
		t.Errorf("Generic type = %q", g.Type)
	}
	if !strings.Contains(string(g.Data), "22000") {
		t.Errorf("Generic data = %s", g.Data)
	}
	if !batch[3].Valid() {
		t.Error("generic event should be valid")
	}

	if batch[4].Valid() {
		t.Error("typed event with null data should be invalid")
	}
	if err := batch[4].Err(); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("null data Err() = %v, want ErrInvalidPayload", err)
	}

	if batch[5].Valid() {
		t.Error("payload with wrong field type should be invalid")
	}
	if err := batch[5].Err(); err == nil || !strings.Contains(err.Error(), "FolderSummary event 48") {
		t.Errorf("bad payload Err() = %v", err)
	}
}

func TestDecodeBatchRejectsMalformedEnvelope(t *testing.T) {
	for _, in := range []string{`{"id": 1}`, `[{"id": "one"}]`, `[{"id": 1, "time": "yesterday"}]`, `not json`} {
		if _, err := DecodeBatch([]byte(in)); err == nil {
			t.Errorf("DecodeBatch(%q) expected error", in)
		}
	}
}

func TestPayloadValidity(t *testing.T) {
	tests := []struct {
		name string
		p    Payload
		want bool
	}{
		{name: "state changed", p: StateChanged{Folder: "f", To: "idle"}, want: true},
		{name: "state changed without folder", p: StateChanged{To: "idle"}, want: false},
		{name: "item started", p: ItemStarted{Folder: "f", Item: "a"}, want: true},
		{name: "item started without item", p: ItemStarted{Folder: "f"}, want: false},
		{name: "download progress empty", p: DownloadProgress{}, want: true},
		{name: "download progress nil", p: DownloadProgress(nil), want: false},
		{name: "device connected", p: DeviceConnected{ID: "ABC"}, want: true},
		{name: "device disconnected no id", p: DeviceDisconnected{Error: "eof"}, want: false},
		{name: "folder rejected", p: FolderRejected{Device: "d", Folder: "f"}, want: true},
		{name: "folder rejected no folder", p: FolderRejected{Device: "d"}, want: false},
		{name: "config saved", p: ConfigSaved{Version: 37}, want: true},
		{name: "config saved no version", p: ConfigSaved{}, want: false},
		{name: "startup complete", p: StartupComplete{}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

type recordingHandler struct {
	NopHandler
	calls []string
}

func (h *recordingHandler) HandleStateChanged(env Envelope, p StateChanged) {
	h.calls = append(h.calls, "state:"+p.Folder)
}

func (h *recordingHandler) HandleDevicePaused(env Envelope, p DevicePaused) {
	h.calls = append(h.calls, "paused:"+p.Device)
}

func (h *recordingHandler) HandleOther(env Envelope) {
	h.calls = append(h.calls, "other:"+string(env.Type))
}

func TestDispatchRoutesByPayload(t *testing.T) {
	now := time.Now()
	h := &recordingHandler{}

	batch := []Envelope{
		New(1, now, StateChanged{Folder: "photos", From: "idle", To: "scanning"}),
		New(2, now, DevicePaused{Device: "DEV1"}),
		New(3, now, RemoteIndexUpdated{Device: "DEV1", Folder: "photos", Items: 2}),
		New(4, now, ItemStarted{Folder: "photos", Item: "x.jpg"}),
		New(5, now, StateChanged{}),
	}
	var dispatched int
	for _, env := range batch {
		if Dispatch(env, h) {
			dispatched++
		}
	}

	want := []string{"state:photos", "paused:DEV1", "other:RemoteIndexUpdated"}
	if strings.Join(h.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", h.calls, want)
	}
	if dispatched != 4 {
		t.Fatalf("dispatched = %d, want 4 (invalid event must be skipped)", dispatched)
	}
}

func TestNewEnvelopeRoundTrip(t *testing.T) {
	env := New(9, time.Unix(0, 0), FolderErrors{Folder: "f", Errors: []FolderError{{Path: "a", Error: "denied"}}})
	if env.Type != TypeFolderErrors {
		t.Fatalf("Type = %s", env.Type)
	}

	decoded, err := Decode([]byte(`{"id":9,"type":"FolderErrors","time":"1970-01-01T00:00:00Z","data":` + string(env.Raw) + `}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	fe := decoded.Payload.(FolderErrors)
	if len(fe.Errors) != 1 || fe.Errors[0].Error != "denied" {
		t.Fatalf("decoded FolderErrors = %+v", fe)
	}
}

func TestNewEnvelopeKeepsGenericType(t *testing.T) {
	env := New(12, time.Unix(0, 0), Generic{Type: TypePing, Data: []byte(`{}`)})
	if env.Type != TypePing {
		t.Fatalf("Type = %q, want %q", env.Type, TypePing)
	}
	if string(env.Raw) != `{}` {
		t.Fatalf("Raw = %s", env.Raw)
	}
	if TypeOf(Generic{}) != "" {
		t.Fatalf("TypeOf(Generic{}) = %q, want empty", TypeOf(Generic{}))
	}
}

func TestKnown(t *testing.T) {
	if !Known(TypeDownloadProgress) {
		t.Error("DownloadProgress should be known")
	}
	if Known(TypePing) {
		t.Error("Ping should decode as Generic")
	}
}
