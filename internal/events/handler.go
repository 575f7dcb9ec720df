package events

// Handler receives one typed call per dispatched event. Embed NopHandler to
// pick up no-op defaults and override only the categories of interest.
type Handler interface {
	HandleStateChanged(env Envelope, p StateChanged)
	HandleItemStarted(env Envelope, p ItemStarted)
	HandleItemFinished(env Envelope, p ItemFinished)
	HandleDownloadProgress(env Envelope, p DownloadProgress)
	HandleDeviceConnected(env Envelope, p DeviceConnected)
	HandleDeviceDisconnected(env Envelope, p DeviceDisconnected)
	HandleDevicePaused(env Envelope, p DevicePaused)
	HandleDeviceResumed(env Envelope, p DeviceResumed)
	HandleDeviceRejected(env Envelope, p DeviceRejected)
	HandleFolderRejected(env Envelope, p FolderRejected)
	HandleConfigSaved(env Envelope, p ConfigSaved)
	HandleFolderSummary(env Envelope, p FolderSummary)
	HandleFolderErrors(env Envelope, p FolderErrors)
	HandleStartupComplete(env Envelope, p StartupComplete)
	// HandleOther receives index-update chatter and unmodelled types.
	HandleOther(env Envelope)
}

// NopHandler implements Handler by ignoring everything.
type NopHandler struct{}

func (NopHandler) HandleStateChanged(Envelope, StateChanged)             {}
func (NopHandler) HandleItemStarted(Envelope, ItemStarted)               {}
func (NopHandler) HandleItemFinished(Envelope, ItemFinished)             {}
func (NopHandler) HandleDownloadProgress(Envelope, DownloadProgress)     {}
func (NopHandler) HandleDeviceConnected(Envelope, DeviceConnected)       {}
func (NopHandler) HandleDeviceDisconnected(Envelope, DeviceDisconnected) {}
func (NopHandler) HandleDevicePaused(Envelope, DevicePaused)             {}
func (NopHandler) HandleDeviceResumed(Envelope, DeviceResumed)           {}
func (NopHandler) HandleDeviceRejected(Envelope, DeviceRejected)         {}
func (NopHandler) HandleFolderRejected(Envelope, FolderRejected)         {}
func (NopHandler) HandleConfigSaved(Envelope, ConfigSaved)               {}
func (NopHandler) HandleFolderSummary(Envelope, FolderSummary)           {}
func (NopHandler) HandleFolderErrors(Envelope, FolderErrors)             {}
func (NopHandler) HandleStartupComplete(Envelope, StartupComplete)       {}
func (NopHandler) HandleOther(Envelope)                                  {}

// Dispatch routes env to the handler method for its payload type. Invalid
// envelopes are not dispatched; it reports whether a call was made.
func Dispatch(env Envelope, h Handler) bool {
	if !env.Valid() {
		return false
	}
	switch p := env.Payload.(type) {
	case StateChanged:
		h.HandleStateChanged(env, p)
	case ItemStarted:
		h.HandleItemStarted(env, p)
	case ItemFinished:
		h.HandleItemFinished(env, p)
	case DownloadProgress:
		h.HandleDownloadProgress(env, p)
	case DeviceConnected:
		h.HandleDeviceConnected(env, p)
	case DeviceDisconnected:
		h.HandleDeviceDisconnected(env, p)
	case DevicePaused:
		h.HandleDevicePaused(env, p)
	case DeviceResumed:
		h.HandleDeviceResumed(env, p)
	case DeviceRejected:
		h.HandleDeviceRejected(env, p)
	case FolderRejected:
		h.HandleFolderRejected(env, p)
	case ConfigSaved:
		h.HandleConfigSaved(env, p)
	case FolderSummary:
		h.HandleFolderSummary(env, p)
	case FolderErrors:
		h.HandleFolderErrors(env, p)
	case StartupComplete:
		h.HandleStartupComplete(env, p)
	default:
		h.HandleOther(env)
	}
	return true
}
