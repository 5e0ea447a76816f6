package media

// QualityTier is the discretized network quality, ordered worst to best.
type QualityTier int

const (
	TierUnknown QualityTier = iota
	TierVeryPoor
	TierPoor
	TierFair
	TierGood
	TierExcellent
)

func (t QualityTier) String() string {
	switch t {
	case TierVeryPoor:
		return "very_poor"
	case TierPoor:
		return "poor"
	case TierFair:
		return "fair"
	case TierGood:
		return "good"
	case TierExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// DefaultRecommendedHeight is recommended while the tier is still unknown.
const DefaultRecommendedHeight = 480

// RecommendedHeight maps a tier to the video height it can sustain.
func (t QualityTier) RecommendedHeight() int {
	switch t {
	case TierExcellent:
		return 1080
	case TierGood:
		return 720
	case TierFair:
		return 480
	case TierPoor:
		return 360
	case TierVeryPoor:
		return 240
	default:
		return DefaultRecommendedHeight
	}
}
