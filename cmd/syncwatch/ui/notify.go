package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/roseeng/SyncTrayzor/internal/watcher"
)

// Line renders one watcher notification as a single terminal line.
type Line struct {
	Time time.Time
	Tag  string
	Text string
	Kind Kind
}

type Kind uint8

const (
	KindInfo Kind = iota
	KindSuccess
	KindWarn
	KindError
)

func (l Line) String() string {
	var tag string
	switch l.Kind {
	case KindSuccess:
		tag = SuccessStyle.Inherit(TagStyle).Render(l.Tag)
	case KindWarn:
		tag = WarnStyle.Inherit(TagStyle).Render(l.Tag)
	case KindError:
		tag = ErrorStyle.Inherit(TagStyle).Render(l.Tag)
	default:
		tag = AccentStyle.Inherit(TagStyle).Render(l.Tag)
	}
	return Muted(l.Time.Format("15:04:05")) + " " + tag + " " + l.Text
}

func SyncState(n watcher.SyncStateChanged) Line {
	kind := KindInfo
	if n.To == "idle" {
		kind = KindSuccess
	}
	return Line{Tag: "state", Text: fmt.Sprintf("%s %s → %s", n.Folder, Muted(n.From), n.To), Kind: kind}
}

func ItemStarted(n watcher.ItemStarted) Line {
	return Line{Tag: "item", Text: fmt.Sprintf("%s/%s %s", n.Folder, n.Item, Muted(string(n.Action)))}
}

func ItemFinished(n watcher.ItemFinished) Line {
	if n.Error != "" {
		return Line{Tag: "item", Text: fmt.Sprintf("%s/%s failed: %s", n.Folder, n.Item, n.Error), Kind: KindError}
	}
	return Line{Tag: "item", Text: fmt.Sprintf("%s/%s done", n.Folder, n.Item), Kind: KindSuccess}
}

func DownloadProgress(n watcher.ItemDownloadProgress) Line {
	pct := 0.0
	if n.BytesTotal > 0 {
		pct = float64(n.BytesDone) * 100 / float64(n.BytesTotal)
	}
	return Line{Tag: "download", Text: fmt.Sprintf("%s/%s %5.1f%% %s", n.Folder, n.Item, pct, Muted(Bytes(n.BytesTotal)))}
}

func DeviceConnected(n watcher.DeviceConnected) Line {
	return Line{Tag: "device", Text: fmt.Sprintf("%s connected from %s", ShortID(n.DeviceID), n.Address), Kind: KindSuccess}
}

func DeviceDisconnected(n watcher.DeviceDisconnected) Line {
	text := ShortID(n.DeviceID) + " disconnected"
	if n.Error != "" {
		text += ": " + n.Error
	}
	return Line{Tag: "device", Text: text, Kind: KindWarn}
}

func DevicePaused(n watcher.DevicePaused) Line {
	return Line{Tag: "device", Text: ShortID(n.DeviceID) + " paused"}
}

func DeviceResumed(n watcher.DeviceResumed) Line {
	return Line{Tag: "device", Text: ShortID(n.DeviceID) + " resumed"}
}

func DeviceRejected(n watcher.DeviceRejected) Line {
	return Line{Tag: "device", Text: fmt.Sprintf("%s (%s) at %s wants to connect", ShortID(n.DeviceID), n.Name, n.Address), Kind: KindWarn}
}

func FolderRejected(n watcher.FolderRejected) Line {
	label := n.FolderID
	if n.FolderLabel != "" {
		label = n.FolderLabel + " (" + n.FolderID + ")"
	}
	return Line{Tag: "folder", Text: fmt.Sprintf("%s offers folder %s", ShortID(n.DeviceID), label), Kind: KindWarn}
}

func ConfigSaved(n watcher.ConfigSaved) Line {
	return Line{Tag: "config", Text: fmt.Sprintf("saved v%d: %d folders, %d devices", n.Config.Version, len(n.Config.Folders), len(n.Config.Devices))}
}

func FolderStatus(n watcher.FolderStatusChanged) Line {
	return Line{Tag: "folder", Text: fmt.Sprintf("%s %s, need %d files (%s)", n.Folder, n.Status.State, n.Status.NeedFiles, Bytes(n.Status.NeedBytes))}
}

func FolderErrors(n watcher.FolderErrorsChanged) Line {
	if len(n.Errors) == 0 {
		return Line{Tag: "folder", Text: n.Folder + " errors cleared", Kind: KindSuccess}
	}
	paths := make([]string, 0, min(3, len(n.Errors)))
	for _, e := range n.Errors[:min(3, len(n.Errors))] {
		paths = append(paths, e.Path)
	}
	more := ""
	if len(n.Errors) > 3 {
		more = fmt.Sprintf(" and %d more", len(n.Errors)-3)
	}
	return Line{Tag: "folder", Text: fmt.Sprintf("%s: %s%s", n.Folder, strings.Join(paths, ", "), more), Kind: KindError}
}

func StartupComplete(n watcher.StartupComplete) Line {
	return Line{Tag: "daemon", Text: "started as " + ShortID(n.DeviceID), Kind: KindSuccess}
}

func EventsSkipped(n watcher.EventsSkipped) Line {
	return Line{Tag: "gap", Text: fmt.Sprintf("events %d..%d were dropped by the daemon", n.LastSeen+1, n.Resumed-1), Kind: KindWarn}
}

// ShortID returns the first group of a device id.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// Bytes formats n with a binary unit suffix.
func Bytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
