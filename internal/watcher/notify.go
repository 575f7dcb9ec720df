package watcher

import (
	"log/slog"
	"sync"

	"github.com/roseeng/SyncTrayzor/internal/events"
)

type SyncStateChanged struct {
	Folder string
	From   string
	To     string
}

type ItemStarted struct {
	Folder string
	Item   string
	Action events.ItemAction
	Type   events.ItemType
}

type ItemFinished struct {
	Folder string
	Item   string
	Action events.ItemAction
	Type   events.ItemType
	Error  string // empty on success
}

type ItemDownloadProgress struct {
	Folder     string
	Item       string
	BytesDone  int64
	BytesTotal int64
}

type DeviceConnected struct {
	DeviceID string
	Address  string
}

type DeviceDisconnected struct {
	DeviceID string
	Error    string
}

type DevicePaused struct {
	DeviceID string
}

type DeviceResumed struct {
	DeviceID string
}

type DeviceRejected struct {
	DeviceID string
	Name     string
	Address  string
}

type FolderRejected struct {
	DeviceID    string
	FolderID    string
	FolderLabel string
}

type ConfigSaved struct {
	Config events.ConfigSaved
}

type FolderStatusChanged struct {
	Folder string
	Status events.FolderStatus
}

type FolderErrorsChanged struct {
	Folder string
	Errors []events.FolderError
}

type StartupComplete struct {
	DeviceID string
}

// EventsSkipped reports that the daemon dropped events between two fetches.
type EventsSkipped struct {
	LastSeen int64 // cursor before the batch
	Resumed  int64 // first id of the batch
}

// topic is an ordered list of callbacks for one notification category.
type topic[T any] struct {
	name string

	mu     sync.Mutex
	subs   []subscriber[T]
	nextID uint64
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

func (t *topic[T]) subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs = append(t.subs, subscriber[T]{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.unsubscribe(id) })
	}
}

func (t *topic[T]) unsubscribe(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// publish calls every subscriber in subscription order. A panicking
// subscriber is logged and does not prevent delivery to the rest.
func (t *topic[T]) publish(v T) {
	t.mu.Lock()
	subs := t.subs
	t.mu.Unlock()

	for _, s := range subs {
		t.deliver(s, v)
	}
}

func (t *topic[T]) deliver(s subscriber[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event observer panicked", "component", "event-watcher", "notification", t.name, "panic", r)
		}
	}()
	s.fn(v)
}

// notifications holds one topic per category.
type notifications struct {
	syncStateChanged     topic[SyncStateChanged]
	itemStarted          topic[ItemStarted]
	itemFinished         topic[ItemFinished]
	itemDownloadProgress topic[ItemDownloadProgress]
	deviceConnected      topic[DeviceConnected]
	deviceDisconnected   topic[DeviceDisconnected]
	devicePaused         topic[DevicePaused]
	deviceResumed        topic[DeviceResumed]
	deviceRejected       topic[DeviceRejected]
	folderRejected       topic[FolderRejected]
	configSaved          topic[ConfigSaved]
	folderStatusChanged  topic[FolderStatusChanged]
	folderErrorsChanged  topic[FolderErrorsChanged]
	startupComplete      topic[StartupComplete]
	eventsSkipped        topic[EventsSkipped]
}

func (n *notifications) init() {
	n.syncStateChanged.name = "sync-state-changed"
	n.itemStarted.name = "item-started"
	n.itemFinished.name = "item-finished"
	n.itemDownloadProgress.name = "item-download-progress"
	n.deviceConnected.name = "device-connected"
	n.deviceDisconnected.name = "device-disconnected"
	n.devicePaused.name = "device-paused"
	n.deviceResumed.name = "device-resumed"
	n.deviceRejected.name = "device-rejected"
	n.folderRejected.name = "folder-rejected"
	n.configSaved.name = "config-saved"
	n.folderStatusChanged.name = "folder-status-changed"
	n.folderErrorsChanged.name = "folder-errors-changed"
	n.startupComplete.name = "startup-complete"
	n.eventsSkipped.name = "events-skipped"
}

// Each On* method registers fn for one category and returns a function that
// removes it. Callbacks run on the dispatch goroutine, one event at a time.

func (w *Watcher) OnSyncStateChanged(fn func(SyncStateChanged)) func() {
	return w.notify.syncStateChanged.subscribe(fn)
}

func (w *Watcher) OnItemStarted(fn func(ItemStarted)) func() {
	return w.notify.itemStarted.subscribe(fn)
}

func (w *Watcher) OnItemFinished(fn func(ItemFinished)) func() {
	return w.notify.itemFinished.subscribe(fn)
}

func (w *Watcher) OnItemDownloadProgress(fn func(ItemDownloadProgress)) func() {
	return w.notify.itemDownloadProgress.subscribe(fn)
}

func (w *Watcher) OnDeviceConnected(fn func(DeviceConnected)) func() {
	return w.notify.deviceConnected.subscribe(fn)
}

func (w *Watcher) OnDeviceDisconnected(fn func(DeviceDisconnected)) func() {
	return w.notify.deviceDisconnected.subscribe(fn)
}

func (w *Watcher) OnDevicePaused(fn func(DevicePaused)) func() {
	return w.notify.devicePaused.subscribe(fn)
}

func (w *Watcher) OnDeviceResumed(fn func(DeviceResumed)) func() {
	return w.notify.deviceResumed.subscribe(fn)
}

func (w *Watcher) OnDeviceRejected(fn func(DeviceRejected)) func() {
	return w.notify.deviceRejected.subscribe(fn)
}

func (w *Watcher) OnFolderRejected(fn func(FolderRejected)) func() {
	return w.notify.folderRejected.subscribe(fn)
}

func (w *Watcher) OnConfigSaved(fn func(ConfigSaved)) func() {
	return w.notify.configSaved.subscribe(fn)
}

func (w *Watcher) OnFolderStatusChanged(fn func(FolderStatusChanged)) func() {
	return w.notify.folderStatusChanged.subscribe(fn)
}

func (w *Watcher) OnFolderErrorsChanged(fn func(FolderErrorsChanged)) func() {
	return w.notify.folderErrorsChanged.subscribe(fn)
}

func (w *Watcher) OnStartupComplete(fn func(StartupComplete)) func() {
	return w.notify.startupComplete.subscribe(fn)
}

func (w *Watcher) OnEventsSkipped(fn func(EventsSkipped)) func() {
	return w.notify.eventsSkipped.subscribe(fn)
}
