package watcher

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roseeng/SyncTrayzor/internal/events"
)

// batch is one fetched unit of work for the dispatch queue.
type batch struct {
	events   []events.Envelope
	lastSeen int64 // cursor before this batch
	skipped  bool
}

func (b batch) firstID() int64 { return b.events[0].ID }
func (b batch) lastID() int64  { return b.events[len(b.events)-1].ID }

// dispatch visits every event of b in order, then reports a gap if one was
// detected. It runs on the serial queue, never on the poll goroutine.
func (w *Watcher) dispatch(ctx context.Context, b batch) error {
	ctx, span := w.tracer.Start(ctx, w.name+".dispatch", trace.WithAttributes(
		attribute.Int("events.count", len(b.events)),
		attribute.Int64("events.first_id", b.firstID()),
		attribute.Int64("events.last_id", b.lastID()),
		attribute.Bool("events.skipped", b.skipped),
	))
	defer span.End()

	h := handler{w: w}
	var invalid int
	for _, env := range b.events {
		if !env.Valid() {
			invalid++
			w.log.Warn("invalid event, ignoring", "event", env.String(), "err", env.Err())
			continue
		}
		w.log.Debug("dispatching event", "id", env.ID, "type", env.Type)
		w.dispatchOne(env, h)
	}
	if invalid > 0 {
		span.SetAttributes(attribute.Int("events.invalid", invalid))
	}

	if b.skipped {
		w.log.Debug("events were skipped", "last_seen", b.lastSeen, "resumed", b.firstID())
		w.notify.eventsSkipped.publish(EventsSkipped{LastSeen: b.lastSeen, Resumed: b.firstID()})
	}

	if w.checkpoint != nil {
		if err := w.checkpoint.SetCursor(ctx, w.name, b.lastID(), time.Now().UTC()); err != nil {
			w.log.Warn("record event cursor checkpoint", "cursor", b.lastID(), "err", err)
		}
	}
	return nil
}

func (w *Watcher) dispatchOne(env events.Envelope, h handler) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("event handler panicked", "id", env.ID, "type", env.Type, "panic", r)
		}
	}()
	events.Dispatch(env, h)
}

// handler translates typed payloads into watcher notifications.
type handler struct {
	events.NopHandler
	w *Watcher
}

func (h handler) HandleStateChanged(_ events.Envelope, p events.StateChanged) {
	h.w.notify.syncStateChanged.publish(SyncStateChanged{Folder: p.Folder, From: p.From, To: p.To})
}

func (h handler) HandleItemStarted(_ events.Envelope, p events.ItemStarted) {
	h.w.notify.itemStarted.publish(ItemStarted{Folder: p.Folder, Item: p.Item, Action: p.Action, Type: p.Type})
}

func (h handler) HandleItemFinished(_ events.Envelope, p events.ItemFinished) {
	h.w.notify.itemFinished.publish(ItemFinished{
		Folder: p.Folder,
		Item:   p.Item,
		Action: p.Action,
		Type:   p.Type,
		Error:  p.Err(),
	})
}

// HandleDownloadProgress fans one event out per file, folders and files in
// lexical order so observers see a stable sequence.
func (h handler) HandleDownloadProgress(_ events.Envelope, p events.DownloadProgress) {
	folders := make([]string, 0, len(p))
	for folder := range p {
		folders = append(folders, folder)
	}
	slices.Sort(folders)

	for _, folder := range folders {
		files := make([]string, 0, len(p[folder]))
		for file := range p[folder] {
			files = append(files, file)
		}
		slices.Sort(files)
		for _, file := range files {
			fp := p[folder][file]
			h.w.notify.itemDownloadProgress.publish(ItemDownloadProgress{
				Folder:     folder,
				Item:       file,
				BytesDone:  fp.BytesDone,
				BytesTotal: fp.BytesTotal,
			})
		}
	}
}

func (h handler) HandleDeviceConnected(_ events.Envelope, p events.DeviceConnected) {
	h.w.notify.deviceConnected.publish(DeviceConnected{DeviceID: p.ID, Address: p.Addr})
}

func (h handler) HandleDeviceDisconnected(_ events.Envelope, p events.DeviceDisconnected) {
	h.w.notify.deviceDisconnected.publish(DeviceDisconnected{DeviceID: p.ID, Error: p.Error})
}

func (h handler) HandleDevicePaused(_ events.Envelope, p events.DevicePaused) {
	h.w.notify.devicePaused.publish(DevicePaused{DeviceID: p.Device})
}

func (h handler) HandleDeviceResumed(_ events.Envelope, p events.DeviceResumed) {
	h.w.notify.deviceResumed.publish(DeviceResumed{DeviceID: p.Device})
}

func (h handler) HandleDeviceRejected(_ events.Envelope, p events.DeviceRejected) {
	h.w.notify.deviceRejected.publish(DeviceRejected{DeviceID: p.Device, Name: p.Name, Address: p.Address})
}

func (h handler) HandleFolderRejected(_ events.Envelope, p events.FolderRejected) {
	h.w.notify.folderRejected.publish(FolderRejected{DeviceID: p.Device, FolderID: p.Folder, FolderLabel: p.FolderLabel})
}

func (h handler) HandleConfigSaved(_ events.Envelope, p events.ConfigSaved) {
	h.w.notify.configSaved.publish(ConfigSaved{Config: p})
}

func (h handler) HandleFolderSummary(_ events.Envelope, p events.FolderSummary) {
	h.w.notify.folderStatusChanged.publish(FolderStatusChanged{Folder: p.Folder, Status: p.Summary})
}

func (h handler) HandleFolderErrors(_ events.Envelope, p events.FolderErrors) {
	h.w.notify.folderErrorsChanged.publish(FolderErrorsChanged{Folder: p.Folder, Errors: p.Errors})
}

func (h handler) HandleStartupComplete(_ events.Envelope, p events.StartupComplete) {
	h.w.notify.startupComplete.publish(StartupComplete{DeviceID: p.MyID})
}

var _ events.Handler = handler{}

func logAttrs(b batch) []any {
	return []any{slog.Int("count", len(b.events)), slog.Int64("first_id", b.firstID()), slog.Int64("last_id", b.lastID())}
}
