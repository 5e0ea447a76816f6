package catalogue

import (
	"bufio"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"hls-player/internal/media"
)

const (
	tagHeader    = "#EXTM3U"
	tagStreamInf = "#EXT-X-STREAM-INF:"
	tagMedia     = "#EXT-X-MEDIA:"
)

// ParseMasterPlaylist converts an HLS master playlist into a catalogue for
// source. Variant URIs are resolved against base when base is non-nil.
// #EXT-X-STREAM-INF entries with a RESOLUTION (or a video codec) become video
// variants; audio-only entries and #EXT-X-MEDIA TYPE=AUDIO renditions with a
// URI become audio variants.
func ParseMasterPlaylist(source media.SourceID, body string, base *url.URL) (*media.Catalogue, error) {
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	cat := &media.Catalogue{ID: source}
	sawHeader := false
	var pending map[string]string

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch {
		case line == tagHeader:
			sawHeader = true
		case strings.HasPrefix(line, tagStreamInf):
			pending = parseAttributes(strings.TrimPrefix(line, tagStreamInf))
		case strings.HasPrefix(line, tagMedia):
			attrs := parseAttributes(strings.TrimPrefix(line, tagMedia))
			if attrs["TYPE"] != "AUDIO" || attrs["URI"] == "" {
				continue
			}
			cat.Audio = append(cat.Audio, media.Variant{
				Kind:    media.KindAudio,
				Codec:   attrs["CODECS"],
				Bitrate: parseInt(attrs["BANDWIDTH"]),
				Locator: resolveURI(base, attrs["URI"]),
			})
		case strings.HasPrefix(line, "#"):
			// other tags are irrelevant for variant selection
		default:
			if pending == nil {
				continue
			}
			addStreamInf(cat, pending, resolveURI(base, line))
			pending = nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlaylist, err)
	}
	if !sawHeader {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidPlaylist, tagHeader)
	}
	if len(cat.Video) == 0 && len(cat.Audio) == 0 {
		return nil, fmt.Errorf("%w: no variants", ErrInvalidPlaylist)
	}
	return cat, nil
}

// addStreamInf appends the variant described by a #EXT-X-STREAM-INF entry.
func addStreamInf(cat *media.Catalogue, attrs map[string]string, locator string) {
	codecs := attrs["CODECS"]
	height := parseResolution(attrs["RESOLUTION"])
	bitrate := parseInt(attrs["BANDWIDTH"])

	if height == 0 && codecs != "" && !hasVideoCodec(codecs) {
		cat.Audio = append(cat.Audio, media.Variant{
			Kind:    media.KindAudio,
			Codec:   codecs,
			Bitrate: bitrate,
			Locator: locator,
		})
		return
	}
	cat.Video = append(cat.Video, media.Variant{
		Kind:    media.KindVideo,
		Height:  height,
		Codec:   videoCodec(codecs),
		Bitrate: bitrate,
		Locator: locator,
	})
}

// videoCodec picks the video entry out of a CODECS list ("avc1.x,mp4a.y").
func videoCodec(codecs string) string {
	for _, c := range strings.Split(codecs, ",") {
		c = strings.TrimSpace(c)
		if f := media.ParseCodec(c); f != media.CodecUnknown && !f.IsAudioCodec() {
			return c
		}
	}
	return strings.TrimSpace(codecs)
}

func hasVideoCodec(codecs string) bool {
	for _, c := range strings.Split(codecs, ",") {
		if f := media.ParseCodec(c); f != media.CodecUnknown && !f.IsAudioCodec() {
			return true
		}
	}
	return false
}

// BuildMasterPlaylist renders a catalogue as an HLS master playlist. Video
// variants are written highest first; audio variants follow as audio-only
// stream entries so the result parses back into the same catalogue.
func BuildMasterPlaylist(cat *media.Catalogue) string {
	var b strings.Builder

	b.WriteString(tagHeader + "\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	video := append([]media.Variant(nil), cat.Video...)
	sort.SliceStable(video, func(i, j int) bool {
		if video[i].Height != video[j].Height {
			return video[i].Height > video[j].Height
		}
		return video[i].Bitrate > video[j].Bitrate
	})

	for _, v := range video {
		b.WriteString(fmt.Sprintf("%sBANDWIDTH=%d", tagStreamInf, v.Bitrate))
		if v.Height > 0 {
			b.WriteString(fmt.Sprintf(",RESOLUTION=%dx%d", widthFor(v.Height), v.Height))
		}
		if v.Codec != "" {
			b.WriteString(fmt.Sprintf(",CODECS=%q", v.Codec))
		}
		b.WriteString("\n")
		b.WriteString(v.Locator)
		b.WriteString("\n")
	}
	for _, a := range cat.Audio {
		b.WriteString(fmt.Sprintf("%sBANDWIDTH=%d", tagStreamInf, a.Bitrate))
		if a.Codec != "" {
			b.WriteString(fmt.Sprintf(",CODECS=%q", a.Codec))
		}
		b.WriteString("\n")
		b.WriteString(a.Locator)
		b.WriteString("\n")
	}

	return b.String()
}

// widthFor returns the 16:9 width for height, rounded to an even number.
func widthFor(height int) int {
	w := height * 16 / 9
	return w + w%2
}

// parseAttributes splits an HLS attribute list (KEY=VALUE,KEY="a,b") into a map.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToUpper(strings.TrimSpace(s[:eq]))
		s = s[eq+1:]

		var val string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				val, s = s[1:], ""
			} else {
				val, s = s[1:end+1], s[end+2:]
			}
		} else if comma := strings.IndexByte(s, ','); comma >= 0 {
			val, s = s[:comma], s[comma:]
		} else {
			val, s = s, ""
		}
		attrs[key] = strings.TrimSpace(val)
		s = strings.TrimPrefix(s, ",")
	}
	return attrs
}

// parseResolution returns the height of a "WIDTHxHEIGHT" value, or 0.
func parseResolution(s string) int {
	_, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(h)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func resolveURI(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
