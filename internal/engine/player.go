// Package engine defines the contract of the media engine that decodes and
// renders a variant. The controller drives it and listens to its events.
package engine

import (
	"context"
	"time"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventPosition EventKind = iota
	EventDuration
	EventPlaying
	EventBuffering
	EventCompleted
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPosition:
		return "position"
	case EventDuration:
		return "duration"
	case EventPlaying:
		return "playing"
	case EventBuffering:
		return "buffering"
	case EventCompleted:
		return "completed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is pushed by the engine. Only the fields relevant to Kind are set;
// EventPosition carries the video clock, the audio clock and the buffer
// level.
type Event struct {
	Kind          EventKind
	Position      time.Duration
	AudioPosition time.Duration
	Duration      time.Duration
	BufferedAhead time.Duration
	Playing       bool
	Err           error
}

// Player is an opaque decode/render engine. Mutations may complete
// asynchronously inside the engine; a nil error means the request was
// accepted.
type Player interface {
	Open(ctx context.Context, locator string, startAt time.Duration, autoPlay bool) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, position time.Duration) error
	SetRate(ctx context.Context, rate float64) error
	SetVolume(ctx context.Context, volume float64) error
	SetAudioTrack(ctx context.Context, locator string) error

	Position() time.Duration
	Duration() time.Duration
	Volume() float64
	Playing() bool

	// Events is closed by Close.
	Events() <-chan Event
	Close() error
}

// Prefetcher is implemented by engines that accept read-ahead hints.
type Prefetcher interface {
	Prefetch(ahead time.Duration)
}

// SyncAdjuster is implemented by engines that can shift one track's clock
// without a seek.
type SyncAdjuster interface {
	AdjustAudio(offset time.Duration)
	AdjustVideo(offset time.Duration)
}
