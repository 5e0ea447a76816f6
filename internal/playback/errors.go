package playback

import "errors"

var (
	// ErrCatalogueResolution is returned when the variant catalogue could
	// not be fetched.
	ErrCatalogueResolution = errors.New("catalogue resolution failed")
	// ErrNoCompatibleVariant is returned when every selection tier came up
	// empty.
	ErrNoCompatibleVariant = errors.New("no compatible variant")
	// ErrSessionOpen is returned when the engine rejected a locator.
	ErrSessionOpen = errors.New("session open failed")
	// ErrAudioAttach is logged, never returned: playback continues without
	// the separate audio track.
	ErrAudioAttach = errors.New("audio attach failed")
	// ErrTimeout is returned when initialization exceeded its deadline.
	ErrTimeout = errors.New("initialization timed out")
	// ErrSessionClosed is returned by a quality switch whose session was
	// closed before the switch completed.
	ErrSessionClosed = errors.New("session closed during quality switch")
	// ErrDisposed is returned by Initialize after Dispose.
	ErrDisposed = errors.New("controller disposed")
)
