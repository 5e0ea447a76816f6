package media

import "strings"

// CodecFamily groups codec tags that share device compatibility.
type CodecFamily int

const (
	CodecUnknown CodecFamily = iota
	CodecAVC
	CodecVP9
	CodecHEVC
	CodecAV1
	CodecVP8
	CodecAAC
	CodecOpus
)

var codecNames = map[CodecFamily]string{
	CodecUnknown: "unknown",
	CodecAVC:     "avc",
	CodecVP9:     "vp9",
	CodecHEVC:    "hevc",
	CodecAV1:     "av1",
	CodecVP8:     "vp8",
	CodecAAC:     "aac",
	CodecOpus:    "opus",
}

func (f CodecFamily) String() string {
	if s, ok := codecNames[f]; ok {
		return s
	}
	return "unknown"
}

// ParseCodec maps an RFC 6381 codec tag (or a bare codec name) to its family.
// Only the first entry of a comma separated CODECS list is considered.
func ParseCodec(tag string) CodecFamily {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexByte(tag, ','); i >= 0 {
		tag = strings.TrimSpace(tag[:i])
	}
	switch {
	case tag == "":
		return CodecUnknown
	case strings.HasPrefix(tag, "avc1"), strings.HasPrefix(tag, "avc3"), tag == "h264", tag == "avc":
		return CodecAVC
	case strings.HasPrefix(tag, "vp09"), tag == "vp9":
		return CodecVP9
	case strings.HasPrefix(tag, "hvc1"), strings.HasPrefix(tag, "hev1"), tag == "h265", tag == "hevc":
		return CodecHEVC
	case strings.HasPrefix(tag, "av01"), tag == "av1":
		return CodecAV1
	case strings.HasPrefix(tag, "vp08"), tag == "vp8":
		return CodecVP8
	case strings.HasPrefix(tag, "mp4a"), tag == "aac":
		return CodecAAC
	case tag == "opus":
		return CodecOpus
	}
	return CodecUnknown
}

// IsAudioCodec reports whether the family is an audio codec.
func (f CodecFamily) IsAudioCodec() bool {
	return f == CodecAAC || f == CodecOpus
}
