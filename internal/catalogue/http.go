package catalogue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"hls-player/internal/media"
)

// maxPlaylistBytes bounds how much of a master playlist is read.
const maxPlaylistBytes = 4 << 20

// PlaylistResolver resolves a source by fetching its HLS master playlist.
// The source id is the playlist URL.
type PlaylistResolver struct {
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
}

// NewPlaylistResolver returns a resolver using client (http.DefaultClient if nil).
func NewPlaylistResolver(client *http.Client, log *slog.Logger) *PlaylistResolver {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &PlaylistResolver{client: client, log: log, now: time.Now}
}

// Resolve implements Resolver.
func (r *PlaylistResolver) Resolve(ctx context.Context, source media.SourceID) (*media.Catalogue, error) {
	base, err := url.Parse(string(source))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q is not a playlist url", ErrNotFound, source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	start := r.now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s returned %d", ErrNotFound, source, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s returned %d", ErrNetwork, source, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading playlist: %v", ErrNetwork, err)
	}

	cat, err := ParseMasterPlaylist(source, string(body), base)
	if err != nil {
		return nil, err
	}
	cat.ResolvedAt = r.now()

	r.log.Debug("catalogue resolved",
		slog.String("source_id", string(source)),
		slog.Int("video_variants", len(cat.Video)),
		slog.Int("audio_variants", len(cat.Audio)),
		slog.Int("duration_ms", int(r.now().Sub(start).Milliseconds())))
	return cat, nil
}
