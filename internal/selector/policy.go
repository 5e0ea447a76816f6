package selector

import (
	"slices"

	"hls-player/internal/media"
)

// Policy is the compatibility table driving variant selection.
type Policy struct {
	// SafeHeights are the resolutions considered broadly device compatible.
	SafeHeights []int
	// Preferred maps each codec family allowed in the preferred tier to the
	// highest height it is trusted at.
	Preferred map[media.CodecFamily]int
	// Relaxed is the wider table used when the preferred tier has no match.
	Relaxed map[media.CodecFamily]int
	// Ceiling bounds the relaxed and last-resort tiers.
	Ceiling int
	// EmergencyCeiling is tried by last-resort auto selection when nothing
	// fits under Ceiling, before falling back to the globally highest variant.
	EmergencyCeiling int
}

// DefaultSafeHeights is the safe resolution ladder.
var DefaultSafeHeights = []int{240, 360, 480, 720, 1080}

// DefaultPolicy returns the reference table: AVC up to 1080p and VP9 up to
// 720p in the preferred tier; AVC, VP9, HEVC, AV1 and VP8 up to 1080p when
// relaxed.
func DefaultPolicy() Policy {
	return Policy{
		SafeHeights: slices.Clone(DefaultSafeHeights),
		Preferred: map[media.CodecFamily]int{
			media.CodecAVC: 1080,
			media.CodecVP9: 720,
		},
		Relaxed: map[media.CodecFamily]int{
			media.CodecAVC:  1080,
			media.CodecVP9:  1080,
			media.CodecHEVC: 1080,
			media.CodecAV1:  1080,
			media.CodecVP8:  1080,
		},
		Ceiling:          1080,
		EmergencyCeiling: 1080,
	}
}

// WithCeiling returns a copy of p whose relaxed and last-resort tiers allow
// heights up to ceiling, and whose emergency ceiling is at least ceiling.
func (p Policy) WithCeiling(ceiling, emergency int) Policy {
	out := p
	out.Ceiling = ceiling
	out.EmergencyCeiling = max(emergency, ceiling)
	out.Relaxed = make(map[media.CodecFamily]int, len(p.Relaxed))
	for f := range p.Relaxed {
		out.Relaxed[f] = ceiling
	}
	return out
}

func (p Policy) isSafeHeight(h int) bool {
	return slices.Contains(p.SafeHeights, h)
}

// allows reports whether table trusts family at height.
func allows(table map[media.CodecFamily]int, family media.CodecFamily, height int) bool {
	limit, ok := table[family]
	return ok && height <= limit
}
