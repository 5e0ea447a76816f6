package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"hls-player/internal/catalogue"
	"hls-player/internal/catalogue/mocks"
	"hls-player/internal/engine"
	"hls-player/internal/engine/sim"
	"hls-player/internal/manifest"
	"hls-player/internal/media"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const audioLocator = "https://cdn/audio.m3u8"

func avc(height int, bitrate int64) media.Variant {
	return media.Variant{
		Kind:    media.KindVideo,
		Height:  height,
		Codec:   "avc1.64001f",
		Bitrate: bitrate,
		Locator: "https://cdn/" + media.HeightLabel(height) + ".m3u8",
	}
}

func ladder(id media.SourceID) *media.Catalogue {
	return &media.Catalogue{
		ID: id,
		Video: []media.Variant{
			avc(360, 800_000),
			avc(480, 1_400_000),
			avc(720, 2_800_000),
			avc(1080, 5_000_000),
		},
		Audio: []media.Variant{
			{Kind: media.KindAudio, Codec: "mp4a.40.2", Bitrate: 64_000, Locator: "https://cdn/audio-low.m3u8"},
			{Kind: media.KindAudio, Codec: "mp4a.40.2", Bitrate: 128_000, Locator: audioLocator},
		},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryUnit = time.Millisecond
	cfg.SettleDelay = 0
	cfg.FadeStepDelay = 0
	cfg.Buffer.Interval = time.Hour
	cfg.Sync.Interval = time.Hour
	return cfg
}

type harness struct {
	ctrl     *Controller
	resolver *mocks.MockResolver
	player   *sim.Player
	cache    *manifest.Cache

	mu       sync.Mutex
	statuses []Status
}

func newHarness(t *testing.T, cfg Config, opts sim.Options) *harness {
	t.Helper()
	mockCtrl := gomock.NewController(t)
	cache, err := manifest.NewCache(manifest.DefaultCapacity)
	require.NoError(t, err)

	h := &harness{
		resolver: mocks.NewMockResolver(mockCtrl),
		player:   sim.New(opts),
		cache:    cache,
	}
	h.ctrl, err = New(cfg, Deps{
		Cache:    cache,
		Resolver: h.resolver,
		Player:   h.player,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	h.ctrl.OnStatus(func(s Status) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.statuses = append(h.statuses, s)
	})
	t.Cleanup(h.ctrl.Dispose)
	return h
}

func (h *harness) seen() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Status(nil), h.statuses...)
}

func (h *harness) initialize(t *testing.T, id media.SourceID, cat *media.Catalogue, opts InitOptions) {
	t.Helper()
	h.resolver.EXPECT().Resolve(gomock.Any(), id).Return(cat, nil).Times(1)
	require.NoError(t, h.ctrl.Initialize(context.Background(), id, opts))
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestInitialize_ResolvesOnceAndCaches(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true})

	assert.Equal(t, StatusPlaying, h.ctrl.Status())
	assert.Equal(t, []Status{StatusInitializing, StatusPlaying}, h.seen())
	assert.Equal(t, 1, h.cache.Len())
	// auto with an unknown network starts at 480p
	assert.Equal(t, "https://cdn/480p.m3u8", h.player.Locator())
	assert.Equal(t, audioLocator, h.player.AudioTrack())
	assert.True(t, h.player.Playing())

	// already initialized for the same source
	require.NoError(t, h.ctrl.Initialize(context.Background(), "abc", InitOptions{AutoPlay: true}))
	assert.Equal(t, 1, h.player.Calls("Open"))
}

func TestInitialize_ConcurrentCallsJoin(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	h.resolver.EXPECT().
		Resolve(gomock.Any(), media.SourceID("abc")).
		DoAndReturn(func(ctx context.Context, id media.SourceID) (*media.Catalogue, error) {
			close(started)
			<-release
			return ladder(id), nil
		}).
		Times(1)

	errs := make(chan error, 2)
	go func() { errs <- h.ctrl.Initialize(context.Background(), "abc", InitOptions{}) }()
	<-started
	go func() { errs <- h.ctrl.Initialize(context.Background(), "abc", InitOptions{}) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, StatusPaused, h.ctrl.Status())
	assert.Equal(t, 1, h.player.Calls("Open"))
	assert.Equal(t, 1, h.cache.Len())
}

func TestInitialize_ChooseBestQuality(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{ChooseBestQuality: true})
	assert.Equal(t, "https://cdn/1080p.m3u8", h.player.Locator())
	assert.Equal(t, 0, h.ctrl.Diagnostics().ActiveHeight)
}

func TestInitialize_OpenRecoversWithinRetryBound(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.player.FailOpen(2, nil)
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true, DesiredHeight: 720})

	assert.Equal(t, StatusPlaying, h.ctrl.Status())
	assert.Equal(t, 3, h.player.Calls("Open"))
	assert.Equal(t, "https://cdn/720p.m3u8", h.player.Locator())
}

func TestInitialize_OpenFailsPastRetryBound(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.player.FailOpen(4, nil)
	h.resolver.EXPECT().Resolve(gomock.Any(), media.SourceID("abc")).Return(ladder("abc"), nil).Times(1)

	err := h.ctrl.Initialize(context.Background(), "abc", InitOptions{AutoPlay: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionOpen)
	assert.ErrorIs(t, err, sim.ErrInjected)
	assert.Equal(t, StatusError, h.ctrl.Status())
	assert.ErrorIs(t, h.ctrl.Err(), ErrSessionOpen)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 4, h.player.Calls("Open"), "no retry after the bound")
	assert.Equal(t, []Status{StatusInitializing, StatusError}, h.seen())
}

func TestInitialize_ResolveFailure(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.resolver.EXPECT().
		Resolve(gomock.Any(), media.SourceID("missing")).
		Return(nil, catalogue.ErrNotFound).
		Times(4)

	err := h.ctrl.Initialize(context.Background(), "missing", InitOptions{})
	assert.ErrorIs(t, err, ErrCatalogueResolution)
	assert.ErrorIs(t, err, catalogue.ErrNotFound)
	assert.Zero(t, h.cache.Len())
	assert.Zero(t, h.player.Calls("Open"))
}

func TestInitialize_NoVideoIsFatal(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	cat := ladder("abc")
	cat.Video = nil
	h.resolver.EXPECT().Resolve(gomock.Any(), media.SourceID("abc")).Return(cat, nil).Times(1)

	err := h.ctrl.Initialize(context.Background(), "abc", InitOptions{})
	assert.ErrorIs(t, err, ErrNoCompatibleVariant)
	assert.Equal(t, StatusError, h.ctrl.Status())
	assert.Zero(t, h.player.Calls("Open"))
}

func TestInitialize_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.InitTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg, sim.Options{})
	h.player.SetOpenDelay(time.Hour)
	h.resolver.EXPECT().Resolve(gomock.Any(), media.SourceID("abc")).Return(ladder("abc"), nil).Times(1)

	err := h.ctrl.Initialize(context.Background(), "abc", InitOptions{AutoPlay: true})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StatusError, h.ctrl.Status())
	assert.Empty(t, h.ctrl.Diagnostics().Source, "no half-open session")

	// transport calls stay no-ops
	require.NoError(t, h.ctrl.Play(context.Background()))
	assert.Zero(t, h.player.Calls("Play"))
}

func TestInitialize_AudioFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.player.FailAudioTrack(errors.New("no audio"))
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true})

	assert.Equal(t, StatusPlaying, h.ctrl.Status())
	assert.Empty(t, h.ctrl.Diagnostics().AudioTrack)
	assert.Equal(t, 1, h.player.Calls("Open"))
}

func TestInitialize_PublishesQualities(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	var got []media.QualityOption
	h.ctrl.OnQualities(func(q []media.QualityOption) { got = q })
	h.initialize(t, "abc", ladder("abc"), InitOptions{})

	want := []media.QualityOption{
		{Height: 0, Label: "Auto"},
		{Height: 1080, Label: "1080p"},
		{Height: 720, Label: "720p"},
		{Height: 480, Label: "480p"},
		{Height: 360, Label: "360p"},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, want, h.ctrl.Qualities())
}

func TestSetQuality_SameHeightIsNoop(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true, DesiredHeight: 720})
	before := h.seen()

	require.NoError(t, h.ctrl.SetQuality(context.Background(), 720))
	assert.Equal(t, before, h.seen())
	assert.Equal(t, 1, h.player.Calls("Open"))
	assert.Zero(t, h.player.Calls("Stop"))
}

func TestSetQuality_SameLocatorOnlyRecordsHeight(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	cat := &media.Catalogue{ID: "abc", Video: []media.Variant{avc(480, 1_400_000)}}
	h.initialize(t, "abc", cat, InitOptions{AutoPlay: true, DesiredHeight: 480})
	before := h.seen()

	require.NoError(t, h.ctrl.SetQuality(context.Background(), 500))
	assert.Equal(t, 500, h.ctrl.Diagnostics().ActiveHeight)
	assert.Equal(t, before, h.seen())
	assert.Equal(t, 1, h.player.Calls("Open"))
	assert.Zero(t, h.player.Calls("Stop"))
	assert.True(t, h.player.Playing())
}

func TestSetQuality_SwapsAndResumes(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true, DesiredHeight: 480})

	require.NoError(t, h.ctrl.SetQuality(context.Background(), 720))

	assert.Equal(t, "https://cdn/720p.m3u8", h.player.Locator())
	assert.Equal(t, audioLocator, h.player.AudioTrack())
	assert.True(t, h.player.Playing())
	assert.Equal(t, 1.0, h.player.Volume())
	assert.Equal(t, 1, h.player.Calls("Stop"))
	assert.Equal(t, StatusPlaying, h.ctrl.Status())
	assert.Equal(t, []Status{StatusInitializing, StatusPlaying, StatusQualityChanging, StatusPlaying}, h.seen())

	d := h.ctrl.Diagnostics()
	assert.Equal(t, 720, d.ActiveHeight)
	assert.Equal(t, "720p", d.Variant)
	assert.Zero(t, d.Sync.Samples, "drift history reset after swap")
}

func TestSetQuality_PausedStaysPaused(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{DesiredHeight: 480})
	require.NoError(t, h.ctrl.Seek(context.Background(), 42*time.Second))

	require.NoError(t, h.ctrl.SetQuality(context.Background(), 1080))
	assert.Equal(t, StatusPaused, h.ctrl.Status())
	assert.False(t, h.player.Playing())
	assert.Equal(t, 42*time.Second, h.player.Position(), "reopened at the snapshotted position")
}

func TestSetQuality_RecoversOnSafeVariant(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	cat := &media.Catalogue{ID: "abc", Video: []media.Variant{
		avc(480, 1_400_000),
		avc(1080, 5_000_000),
		{Kind: media.KindVideo, Height: 1440, Codec: "hvc1.2.4.L153", Bitrate: 9_000_000, Locator: "https://cdn/1440p.m3u8"},
	}}
	h.initialize(t, "abc", cat, InitOptions{AutoPlay: true, DesiredHeight: 480})
	h.player.FailOpen(1, nil)

	require.NoError(t, h.ctrl.SetQuality(context.Background(), 1440))
	assert.Equal(t, "https://cdn/1080p.m3u8", h.player.Locator())
	assert.Equal(t, StatusPlaying, h.ctrl.Status())
	assert.Equal(t, 1440, h.ctrl.Diagnostics().ActiveHeight)
}

func TestSetQuality_FailedRecoveryIsError(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true, DesiredHeight: 480})
	h.player.FailOpen(2, nil)

	err := h.ctrl.SetQuality(context.Background(), 720)
	assert.ErrorIs(t, err, ErrSessionOpen)
	assert.Equal(t, StatusError, h.ctrl.Status())
	assert.Empty(t, h.ctrl.Diagnostics().Source)

	// a fresh initialize is allowed after an error
	require.NoError(t, h.ctrl.Initialize(context.Background(), "abc", InitOptions{}))
	assert.Equal(t, StatusPaused, h.ctrl.Status())
}

func TestSetQuality_PauseDuringSwapUpdatesIntent(t *testing.T) {
	cfg := testConfig()
	cfg.SettleDelay = 200 * time.Millisecond
	h := newHarness(t, cfg, sim.Options{})
	changing := make(chan struct{}, 1)
	h.ctrl.OnStatus(func(s Status) {
		if s == StatusQualityChanging {
			changing <- struct{}{}
		}
	})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true, DesiredHeight: 480})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.SetQuality(context.Background(), 720) }()
	<-changing

	require.NoError(t, h.ctrl.Pause(context.Background()))
	// rejected while a switch is in flight
	require.NoError(t, h.ctrl.SetQuality(context.Background(), 1080))
	require.NoError(t, <-done)

	assert.Equal(t, StatusPaused, h.ctrl.Status())
	assert.False(t, h.player.Playing())
	assert.Zero(t, h.player.Calls("Pause"))
	assert.Equal(t, "https://cdn/720p.m3u8", h.player.Locator())
}

func TestTransport_NoopsBeforeInitialize(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Play(ctx))
	require.NoError(t, h.ctrl.Pause(ctx))
	require.NoError(t, h.ctrl.Stop(ctx))
	require.NoError(t, h.ctrl.Seek(ctx, time.Second))
	require.NoError(t, h.ctrl.Speed(ctx, 2))
	require.NoError(t, h.ctrl.SetQuality(ctx, 720))

	for _, m := range []string{"Play", "Pause", "Stop", "Seek", "SetRate", "Open"} {
		assert.Zero(t, h.player.Calls(m), m)
	}
	assert.Equal(t, StatusIdle, h.ctrl.Status())
	assert.Empty(t, h.seen())
}

func TestTransport_SeekClamps(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{Duration: time.Minute})
	h.initialize(t, "abc", ladder("abc"), InitOptions{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Seek(ctx, -5*time.Second))
	assert.Zero(t, h.player.Position())
	require.NoError(t, h.ctrl.Seek(ctx, 2*time.Minute))
	assert.Equal(t, time.Minute, h.player.Position())
	assert.Equal(t, 2, h.player.Calls("Seek"))
}

func TestTransport_SpeedClampsAndSkipsUnchanged(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Speed(ctx, 10))
	assert.Equal(t, 3.0, h.ctrl.Rate())
	assert.Equal(t, 3.0, h.player.Rate())

	require.NoError(t, h.ctrl.Speed(ctx, 4))
	assert.Equal(t, 1, h.player.Calls("SetRate"))

	require.NoError(t, h.ctrl.Speed(ctx, 0.1))
	assert.Equal(t, 0.25, h.player.Rate())

	require.NoError(t, h.ctrl.Speed(ctx, 1))
	require.NoError(t, h.ctrl.Speed(ctx, 1))
	assert.Equal(t, 3, h.player.Calls("SetRate"))
}

func TestTransport_StopThenPlayRestarts(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Seek(ctx, 30*time.Second))
	require.NoError(t, h.ctrl.Stop(ctx))
	assert.Equal(t, StatusStopped, h.ctrl.Status())

	// pause and seek are ignored while stopped
	require.NoError(t, h.ctrl.Pause(ctx))
	require.NoError(t, h.ctrl.Seek(ctx, time.Second))
	assert.Equal(t, 1, h.player.Calls("Seek"))

	require.NoError(t, h.ctrl.Play(ctx))
	assert.Equal(t, StatusPlaying, h.ctrl.Status())
	assert.Equal(t, 2, h.player.Calls("Open"))
	assert.Less(t, h.player.Position(), time.Second)
	assert.Equal(t, audioLocator, h.player.AudioTrack())
}

func TestTransport_PlayPauseStatus(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Play(ctx))
	require.NoError(t, h.ctrl.Play(ctx))
	require.NoError(t, h.ctrl.Pause(ctx))

	assert.Equal(t, []Status{StatusInitializing, StatusPaused, StatusPlaying, StatusPaused}, h.seen())
}

func TestMonitors_DriftCorrectedThroughEngine(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{Tick: 5 * time.Millisecond, AudioLag: 100 * time.Millisecond})
	var mu sync.Mutex
	progressed := false
	h.ctrl.OnProgress(func(time.Duration, time.Duration) {
		mu.Lock()
		progressed = true
		mu.Unlock()
	})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true})

	assert.Eventually(t, func() bool {
		return h.player.Calls("AdjustVideo") >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return progressed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMonitors_BufferRequestsPrefetch(t *testing.T) {
	cfg := testConfig()
	cfg.Buffer.Interval = 10 * time.Millisecond
	h := newHarness(t, cfg, sim.Options{Tick: 5 * time.Millisecond})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true})

	assert.Eventually(t, func() bool {
		return h.player.Calls("Prefetch") >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return h.ctrl.Diagnostics().Buffer.Target == 30*time.Second
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispose_Idempotent(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true})

	h.ctrl.Dispose()
	h.ctrl.Dispose()

	assert.Equal(t, StatusDisposed, h.ctrl.Status())
	assert.ErrorIs(t, h.ctrl.Initialize(context.Background(), "abc", InitOptions{}), ErrDisposed)
	require.NoError(t, h.ctrl.Play(context.Background()))
	assert.ErrorIs(t, h.player.Play(context.Background()), sim.ErrClosed)
}

func TestDispose_DuringInitialize(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	started := make(chan struct{})
	h.resolver.EXPECT().
		Resolve(gomock.Any(), media.SourceID("abc")).
		DoAndReturn(func(ctx context.Context, id media.SourceID) (*media.Catalogue, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}).
		Times(1)

	errc := make(chan error, 1)
	go func() { errc <- h.ctrl.Initialize(context.Background(), "abc", InitOptions{AutoPlay: true}) }()
	<-started
	h.ctrl.Dispose()

	assert.ErrorIs(t, <-errc, ErrDisposed)
	assert.Equal(t, StatusDisposed, h.ctrl.Status())
	assert.Zero(t, h.player.Calls("Open"))
}

func TestDispose_BeforeInitialize(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.ctrl.Dispose()
	assert.Equal(t, []Status{StatusDisposed}, h.seen())
}

func TestAdaptive_FollowsNetworkInAutoMode(t *testing.T) {
	cfg := testConfig()
	cfg.AdaptiveInterval = 300 * time.Millisecond
	h := newHarness(t, cfg, sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true})
	require.Equal(t, "https://cdn/480p.m3u8", h.player.Locator())

	h.ctrl.network.ReportSample(4_000_000)

	require.Eventually(t, func() bool {
		return h.player.Locator() == "https://cdn/1080p.m3u8" && h.ctrl.Status() == StatusPlaying
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.player.Calls("Open"))

	// inside AdaptiveInterval the drop to Good waits for the interval
	h.ctrl.network.ReportSample(100_000)
	require.Equal(t, media.TierGood, h.ctrl.network.CurrentTier())
	assert.Equal(t, "https://cdn/1080p.m3u8", h.player.Locator())

	require.Eventually(t, func() bool {
		return h.player.Locator() == "https://cdn/720p.m3u8" && h.ctrl.Status() == StatusPlaying
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, h.player.Calls("Open"))
	assert.Equal(t, 0, h.ctrl.Diagnostics().ActiveHeight)
}

func TestAdaptive_DeferredSwitchUsesLatestTier(t *testing.T) {
	cfg := testConfig()
	cfg.AdaptiveInterval = 200 * time.Millisecond
	h := newHarness(t, cfg, sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true})

	h.ctrl.network.ReportSample(4_000_000)
	require.Eventually(t, func() bool {
		return h.player.Locator() == "https://cdn/1080p.m3u8" && h.ctrl.Status() == StatusPlaying
	}, time.Second, 5*time.Millisecond)

	// Excellent, Good, then Excellent again before the interval passes
	h.ctrl.network.ReportSample(100_000)
	for i := 0; i < 10; i++ {
		h.ctrl.network.ReportSample(4_000_000)
	}
	require.Equal(t, media.TierExcellent, h.ctrl.network.CurrentTier())

	assert.Never(t, func() bool { return h.player.Calls("Open") > 2 }, 400*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, "https://cdn/1080p.m3u8", h.player.Locator())
}

func TestAdaptive_DisposeCancelsDeferredSwitch(t *testing.T) {
	cfg := testConfig()
	cfg.AdaptiveInterval = 100 * time.Millisecond
	h := newHarness(t, cfg, sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true})

	h.ctrl.network.ReportSample(4_000_000)
	require.Eventually(t, func() bool {
		return h.player.Locator() == "https://cdn/1080p.m3u8" && h.ctrl.Status() == StatusPlaying
	}, time.Second, 5*time.Millisecond)
	h.ctrl.network.ReportSample(100_000)
	h.ctrl.Dispose()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, h.player.Calls("Open"))
	assert.Equal(t, StatusDisposed, h.ctrl.Status())
}

func TestAdaptive_IgnoredForFixedHeight(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{DesiredHeight: 480})

	h.ctrl.network.ReportSample(4_000_000)
	assert.Never(t, func() bool { return h.player.Calls("Open") > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestAdaptive_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.AdaptiveAuto = false
	h := newHarness(t, cfg, sim.Options{})
	h.initialize(t, "abc", ladder("abc"), InitOptions{})

	h.ctrl.network.ReportSample(4_000_000)
	assert.Never(t, func() bool { return h.player.Calls("Open") > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestInitialize_WaitsForSwapInFlight(t *testing.T) {
	cfg := testConfig()
	cfg.SettleDelay = 200 * time.Millisecond
	h := newHarness(t, cfg, sim.Options{})
	changing := make(chan struct{}, 1)
	h.ctrl.OnStatus(func(s Status) {
		if s == StatusQualityChanging {
			select {
			case changing <- struct{}{}:
			default:
			}
		}
	})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true, DesiredHeight: 480})

	swapped := make(chan error, 1)
	go func() { swapped <- h.ctrl.SetQuality(context.Background(), 720) }()
	<-changing

	h.initialize(t, "xyz", ladder("xyz"), InitOptions{DesiredHeight: 480})
	require.NoError(t, <-swapped)

	assert.Equal(t, media.SourceID("xyz"), h.ctrl.Diagnostics().Source)
	assert.Equal(t, StatusPaused, h.ctrl.Status())
	assert.Equal(t, "https://cdn/480p.m3u8", h.player.Locator())

	// the new session takes commands
	require.NoError(t, h.ctrl.Play(context.Background()))
	assert.Equal(t, StatusPlaying, h.ctrl.Status())
	assert.True(t, h.player.Playing())
	require.NoError(t, h.ctrl.SetQuality(context.Background(), 1080))
	assert.Equal(t, "https://cdn/1080p.m3u8", h.player.Locator())
	assert.Equal(t, StatusPlaying, h.ctrl.Status())
}

func TestSetQuality_DisposeDuringSwap(t *testing.T) {
	cfg := testConfig()
	cfg.SettleDelay = 200 * time.Millisecond
	h := newHarness(t, cfg, sim.Options{})
	changing := make(chan struct{}, 1)
	h.ctrl.OnStatus(func(s Status) {
		if s == StatusQualityChanging {
			changing <- struct{}{}
		}
	})
	h.initialize(t, "abc", ladder("abc"), InitOptions{AutoPlay: true, DesiredHeight: 480})

	swapped := make(chan error, 1)
	go func() { swapped <- h.ctrl.SetQuality(context.Background(), 720) }()
	<-changing
	h.ctrl.Dispose()

	assert.ErrorIs(t, <-swapped, ErrDisposed)
	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	assert.False(t, h.ctrl.swapping)
}

func TestInitialize_OtherSourceRunsAfterFlightInProgress(t *testing.T) {
	h := newHarness(t, testConfig(), sim.Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	h.resolver.EXPECT().
		Resolve(gomock.Any(), media.SourceID("a")).
		DoAndReturn(func(ctx context.Context, id media.SourceID) (*media.Catalogue, error) {
			close(started)
			<-release
			return ladder(id), nil
		}).
		Times(1)
	h.resolver.EXPECT().Resolve(gomock.Any(), media.SourceID("b")).Return(ladder("b"), nil).Times(1)

	first := make(chan error, 1)
	second := make(chan error, 1)
	go func() { first <- h.ctrl.Initialize(context.Background(), "a", InitOptions{}) }()
	<-started
	go func() { second <- h.ctrl.Initialize(context.Background(), "b", InitOptions{AutoPlay: true}) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, media.SourceID("b"), h.ctrl.Diagnostics().Source)
	assert.Equal(t, StatusPlaying, h.ctrl.Status())
	assert.Equal(t, 2, h.player.Calls("Open"))
	assert.Equal(t, 2, h.cache.Len())
}

// plainEngine exposes only engine.Player, hiding the simulator's clock
// adjustment and prefetch support.
type plainEngine struct {
	engine.Player
}

func TestMonitors_GrowingDriftResyncsPlainEngine(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	resolver := mocks.NewMockResolver(mockCtrl)
	cache, err := manifest.NewCache(manifest.DefaultCapacity)
	require.NoError(t, err)
	player := sim.New(sim.Options{})
	ctrl, err := New(testConfig(), Deps{
		Cache:    cache,
		Resolver: resolver,
		Player:   plainEngine{player},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Dispose)

	resolver.EXPECT().Resolve(gomock.Any(), media.SourceID("abc")).Return(ladder("abc"), nil).Times(1)
	require.NoError(t, ctrl.Initialize(context.Background(), "abc", InitOptions{}))
	require.NoError(t, ctrl.Seek(context.Background(), 5*time.Second))
	seeks := player.Calls("Seek")

	ctrl.sync.ReportAudioTimestamp(5 * time.Second)
	for d := 50 * time.Millisecond; d <= 600*time.Millisecond; d += 50 * time.Millisecond {
		for i := 0; i < 50; i++ {
			ctrl.sync.ReportVideoTimestamp(5*time.Second + d)
		}
	}

	assert.Equal(t, seeks+1, player.Calls("Seek"), "one realigning seek")
	assert.Equal(t, 5*time.Second, player.Position())
	assert.Zero(t, ctrl.Diagnostics().Sync.Samples, "drift history reset after the seek")
	assert.Zero(t, player.Calls("AdjustVideo"))
}
