// Package selector picks the variant to play from a catalogue. It is pure
// decision logic and never touches the playback session.
package selector

import (
	"errors"
	"sort"

	"hls-player/internal/media"
)

// ErrNotFound is returned when no video variant can be selected.
var ErrNotFound = errors.New("selector: no compatible variant")

// Tier identifies which fallback stage produced a selection.
type Tier int

const (
	TierNone Tier = iota
	TierPreferred
	TierRelaxed
	TierLastResort
)

func (t Tier) String() string {
	switch t {
	case TierPreferred:
		return "preferred"
	case TierRelaxed:
		return "relaxed"
	case TierLastResort:
		return "last_resort"
	default:
		return "none"
	}
}

// Selection is the chosen variant and the tier that produced it.
type Selection struct {
	Variant media.Variant
	Tier    Tier
}

// Selector applies a Policy to catalogues.
type Selector struct {
	policy Policy
}

// New returns a selector for p.
func New(p Policy) *Selector {
	return &Selector{policy: p}
}

// stage is one step of the fallback chain. It returns false when it has no
// match so the next stage runs.
type stage struct {
	tier Tier
	pick func(p Policy, videos []media.Variant, desired int) (media.Variant, bool)
}

var stages = []stage{
	{TierPreferred, pickPreferred},
	{TierRelaxed, pickRelaxed},
	{TierLastResort, pickLastResort},
}

// Select returns the best video variant for desired height; 0 means auto.
// Stages run in order (preferred, relaxed, last resort) and the first match
// wins. It fails with ErrNotFound only when the catalogue has no video.
func (s *Selector) Select(cat *media.Catalogue, desired int) (Selection, error) {
	if cat == nil || len(cat.Video) == 0 {
		return Selection{}, ErrNotFound
	}
	for _, st := range stages {
		if v, ok := st.pick(s.policy, cat.Video, desired); ok {
			return Selection{Variant: v, Tier: st.tier}, nil
		}
	}
	return Selection{}, ErrNotFound
}

// SelectSafe restricts selection to the preferred tier, snapping desired to
// the closest preferred height (ties toward the lower one). It is the
// recovery target after a failed switch.
func (s *Selector) SelectSafe(cat *media.Catalogue, desired int) (Selection, error) {
	if cat == nil {
		return Selection{}, ErrNotFound
	}
	candidates := preferredCandidates(s.policy, cat.Video)
	if len(candidates) == 0 {
		return Selection{}, ErrNotFound
	}
	if desired == media.AutoHeight {
		return Selection{Variant: best(candidates), Tier: TierPreferred}, nil
	}
	h := closestHeight(heightsOf(candidates), desired)
	return Selection{Variant: best(atHeight(candidates, h)), Tier: TierPreferred}, nil
}

// SelectAudio returns the highest bitrate audio variant.
func (s *Selector) SelectAudio(cat *media.Catalogue) (media.Variant, bool) {
	if cat == nil || len(cat.Audio) == 0 {
		return media.Variant{}, false
	}
	top := cat.Audio[0]
	for _, a := range cat.Audio[1:] {
		if a.Bitrate > top.Bitrate {
			top = a
		}
	}
	return top, true
}

// Qualities lists the picker entries: Auto first, then each distinct known
// video height, highest first.
func (s *Selector) Qualities(cat *media.Catalogue) []media.QualityOption {
	out := []media.QualityOption{{Height: media.AutoHeight, Label: media.HeightLabel(media.AutoHeight)}}
	if cat == nil {
		return out
	}
	seen := make(map[int]bool)
	var heights []int
	for _, v := range cat.Video {
		if v.Height <= 0 || seen[v.Height] {
			continue
		}
		seen[v.Height] = true
		heights = append(heights, v.Height)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(heights)))
	for _, h := range heights {
		out = append(out, media.QualityOption{Height: h, Label: media.HeightLabel(h)})
	}
	return out
}

func pickPreferred(p Policy, videos []media.Variant, desired int) (media.Variant, bool) {
	return pickFrom(preferredCandidates(p, videos), desired)
}

func pickRelaxed(p Policy, videos []media.Variant, desired int) (media.Variant, bool) {
	var candidates []media.Variant
	for _, v := range videos {
		if v.Height > 0 && v.Height <= p.Ceiling && allows(p.Relaxed, v.Family(), v.Height) {
			candidates = append(candidates, v)
		}
	}
	return pickFrom(candidates, desired)
}

func pickLastResort(p Policy, videos []media.Variant, desired int) (media.Variant, bool) {
	if len(videos) == 0 {
		return media.Variant{}, false
	}
	if desired == media.AutoHeight {
		for _, limit := range []int{p.Ceiling, p.EmergencyCeiling} {
			if under := belowOrAt(videos, limit); len(under) > 0 {
				return best(under), true
			}
		}
		return best(videos), true
	}
	if exact := atHeight(videos, desired); len(exact) > 0 {
		return best(exact), true
	}

	available := heightsOf(videos)
	var safe []int
	for _, h := range available {
		if p.isSafeHeight(h) {
			safe = append(safe, h)
		}
	}
	if len(safe) == 0 {
		safe = available
	}
	return best(atHeight(videos, closestHeight(safe, desired))), true
}

func preferredCandidates(p Policy, videos []media.Variant) []media.Variant {
	var out []media.Variant
	for _, v := range videos {
		if p.isSafeHeight(v.Height) && allows(p.Preferred, v.Family(), v.Height) {
			out = append(out, v)
		}
	}
	return out
}

// pickFrom applies auto (best overall) or explicit (exact height) choice.
func pickFrom(candidates []media.Variant, desired int) (media.Variant, bool) {
	if len(candidates) == 0 {
		return media.Variant{}, false
	}
	if desired == media.AutoHeight {
		return best(candidates), true
	}
	exact := atHeight(candidates, desired)
	if len(exact) == 0 {
		return media.Variant{}, false
	}
	return best(exact), true
}

// best returns the highest variant, breaking height ties by bitrate.
// The first variant wins full ties so selection is stable.
func best(vs []media.Variant) media.Variant {
	top := vs[0]
	for _, v := range vs[1:] {
		if v.Height > top.Height || (v.Height == top.Height && v.Bitrate > top.Bitrate) {
			top = v
		}
	}
	return top
}

func atHeight(vs []media.Variant, h int) []media.Variant {
	var out []media.Variant
	for _, v := range vs {
		if v.Height == h {
			out = append(out, v)
		}
	}
	return out
}

func belowOrAt(vs []media.Variant, limit int) []media.Variant {
	var out []media.Variant
	for _, v := range vs {
		if v.Height > 0 && v.Height <= limit {
			out = append(out, v)
		}
	}
	return out
}

func heightsOf(vs []media.Variant) []int {
	seen := make(map[int]bool)
	var out []int
	for _, v := range vs {
		if !seen[v.Height] {
			seen[v.Height] = true
			out = append(out, v.Height)
		}
	}
	sort.Ints(out)
	return out
}

// closestHeight returns the entry of heights nearest to desired. heights must
// be sorted ascending so ties resolve toward the lower value.
func closestHeight(heights []int, desired int) int {
	bestH, bestD := heights[0], abs(heights[0]-desired)
	for _, h := range heights[1:] {
		if d := abs(h - desired); d < bestD {
			bestH, bestD = h, d
		}
	}
	return bestH
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
