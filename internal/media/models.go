package media

import (
	"fmt"
	"time"
)

// SourceID uniquely identifies a media item (usually its master playlist URL).
type SourceID string

// MediaKind tells whether a variant carries video or audio.
type MediaKind int

const (
	KindVideo MediaKind = iota
	KindAudio
)

func (k MediaKind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "video"
}

// Variant is one encoded rendition of a source (e.g. 720p avc1 at 2.5 Mbps).
// Variants are immutable once resolved.
type Variant struct {
	Kind    MediaKind `json:"kind"`
	Height  int       `json:"height"` // 0 for audio or unknown
	Codec   string    `json:"codec"`  // raw codec tag, e.g. "avc1.64001f"
	Bitrate int64     `json:"bitrate"`
	Locator string    `json:"locator"`
}

// Family returns the codec family of the variant's codec tag.
func (v Variant) Family() CodecFamily {
	return ParseCodec(v.Codec)
}

// Label returns the display label for the variant height ("720p").
func (v Variant) Label() string {
	return HeightLabel(v.Height)
}

// Catalogue is the resolved set of variants for one source, partitioned into
// video-only and audio-only renditions. It is shared read-only once built.
type Catalogue struct {
	ID         SourceID  `json:"id"`
	Video      []Variant `json:"video"`
	Audio      []Variant `json:"audio"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// QualityOption is one entry of the quality picker. Height 0 is "Auto".
type QualityOption struct {
	Height int    `json:"height"`
	Label  string `json:"label"`
}

// AutoHeight is the distinguished height meaning "controller decides".
const AutoHeight = 0

// HeightLabel renders a height for display; 0 renders as "Auto".
func HeightLabel(height int) string {
	if height == AutoHeight {
		return "Auto"
	}
	return fmt.Sprintf("%dp", height)
}
