package events

import (
	"encoding/json"
	"time"
)

// ItemAction is what happened to an item in ItemStarted/ItemFinished.
type ItemAction string

const (
	ActionUpdate   ItemAction = "update"
	ActionDelete   ItemAction = "delete"
	ActionMetadata ItemAction = "metadata"
)

// ItemType is the kind of filesystem entry an item event refers to.
type ItemType string

const (
	ItemFile      ItemType = "file"
	ItemDirectory ItemType = "dir"
	ItemSymlink   ItemType = "symlink"
)

type StateChanged struct {
	Folder   string  `json:"folder"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Duration float64 `json:"duration,omitempty"` // seconds spent in From
}

func (p StateChanged) Valid() bool { return p.Folder != "" && p.To != "" }

type ItemStarted struct {
	Folder string     `json:"folder"`
	Item   string     `json:"item"`
	Type   ItemType   `json:"type"`
	Action ItemAction `json:"action"`
}

func (p ItemStarted) Valid() bool { return p.Folder != "" && p.Item != "" }

type ItemFinished struct {
	Folder string     `json:"folder"`
	Item   string     `json:"item"`
	Type   ItemType   `json:"type"`
	Action ItemAction `json:"action"`
	Error  *string    `json:"error"`
}

func (p ItemFinished) Valid() bool { return p.Folder != "" && p.Item != "" }

// Err returns the failure message, or "" when the item finished cleanly.
func (p ItemFinished) Err() string {
	if p.Error == nil {
		return ""
	}
	return *p.Error
}

// FileProgress is the download state of one file.
type FileProgress struct {
	BytesDone  int64 `json:"bytesDone"`
	BytesTotal int64 `json:"bytesTotal"`
}

// DownloadProgress maps folder -> file -> progress.
type DownloadProgress map[string]map[string]FileProgress

func (p DownloadProgress) Valid() bool { return p != nil }

type DeviceConnected struct {
	ID            string `json:"id"`
	Addr          string `json:"addr"`
	Type          string `json:"type,omitempty"`
	ClientName    string `json:"clientName,omitempty"`
	ClientVersion string `json:"clientVersion,omitempty"`
	DeviceName    string `json:"deviceName,omitempty"`
}

func (p DeviceConnected) Valid() bool { return p.ID != "" }

type DeviceDisconnected struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (p DeviceDisconnected) Valid() bool { return p.ID != "" }

type DevicePaused struct {
	Device string `json:"device"`
}

func (p DevicePaused) Valid() bool { return p.Device != "" }

type DeviceResumed struct {
	Device string `json:"device"`
}

func (p DeviceResumed) Valid() bool { return p.Device != "" }

type DeviceRejected struct {
	Device  string `json:"device"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (p DeviceRejected) Valid() bool { return p.Device != "" }

type FolderRejected struct {
	Device      string `json:"device"`
	Folder      string `json:"folder"`
	FolderLabel string `json:"folderLabel"`
}

func (p FolderRejected) Valid() bool { return p.Device != "" && p.Folder != "" }

type FolderConfig struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Path   string `json:"path"`
	Paused bool   `json:"paused"`
}

type DeviceConfig struct {
	DeviceID string `json:"deviceID"`
	Name     string `json:"name"`
	Paused   bool   `json:"paused"`
}

// ConfigSaved carries the daemon configuration as saved.
type ConfigSaved struct {
	Version int            `json:"version"`
	Folders []FolderConfig `json:"folders"`
	Devices []DeviceConfig `json:"devices"`
}

func (p ConfigSaved) Valid() bool { return p.Version > 0 }

// FolderStatus is the per-folder summary the daemon reports.
type FolderStatus struct {
	GlobalBytes  int64     `json:"globalBytes"`
	GlobalFiles  int64     `json:"globalFiles"`
	LocalBytes   int64     `json:"localBytes"`
	LocalFiles   int64     `json:"localFiles"`
	InSyncBytes  int64     `json:"inSyncBytes"`
	InSyncFiles  int64     `json:"inSyncFiles"`
	NeedBytes    int64     `json:"needBytes"`
	NeedFiles    int64     `json:"needFiles"`
	State        string    `json:"state"`
	StateChanged time.Time `json:"stateChanged"`
	Errors       int       `json:"errors"`
	PullErrors   int       `json:"pullErrors"`
	Sequence     int64     `json:"sequence"`
}

type FolderSummary struct {
	Folder  string       `json:"folder"`
	Summary FolderStatus `json:"summary"`
}

func (p FolderSummary) Valid() bool { return p.Folder != "" }

type FolderError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type FolderErrors struct {
	Folder string        `json:"folder"`
	Errors []FolderError `json:"errors"`
}

func (p FolderErrors) Valid() bool { return p.Folder != "" }

type StartupComplete struct {
	MyID string `json:"myID"`
}

func (p StartupComplete) Valid() bool { return true }

type RemoteIndexUpdated struct {
	Device string `json:"device"`
	Folder string `json:"folder"`
	Items  int    `json:"items"`
}

func (p RemoteIndexUpdated) Valid() bool { return true }

type LocalIndexUpdated struct {
	Folder    string   `json:"folder"`
	Items     int      `json:"items"`
	Filenames []string `json:"filenames,omitempty"`
}

func (p LocalIndexUpdated) Valid() bool { return true }

// Generic holds the data of any event type this package does not model.
type Generic struct {
	Type Type
	Data json.RawMessage
}

func (p Generic) Valid() bool { return true }

func (StateChanged) isPayload()       {}
func (ItemStarted) isPayload()        {}
func (ItemFinished) isPayload()       {}
func (DownloadProgress) isPayload()   {}
func (DeviceConnected) isPayload()    {}
func (DeviceDisconnected) isPayload() {}
func (DevicePaused) isPayload()       {}
func (DeviceResumed) isPayload()      {}
func (DeviceRejected) isPayload()     {}
func (FolderRejected) isPayload()     {}
func (ConfigSaved) isPayload()        {}
func (FolderSummary) isPayload()      {}
func (FolderErrors) isPayload()       {}
func (StartupComplete) isPayload()    {}
func (RemoteIndexUpdated) isPayload() {}
func (LocalIndexUpdated) isPayload()  {}
func (Generic) isPayload()            {}
