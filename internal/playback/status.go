package playback

// Status is the controller state observed by the application.
type Status int32

const (
	StatusIdle Status = iota
	StatusInitializing
	StatusPlaying
	StatusPaused
	StatusQualityChanging
	StatusStopped
	StatusError
	StatusDisposed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInitializing:
		return "initializing"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusQualityChanging:
		return "quality_changing"
	case StatusStopped:
		return "stopped"
	case StatusError:
		return "error"
	case StatusDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}
