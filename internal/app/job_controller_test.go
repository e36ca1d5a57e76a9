package app

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/course-extract-go/internal/domain"
	"github.com/yourusername/course-extract-go/internal/infrastructure"
	"go.uber.org/zap"
)

var testKey = []byte("0123456789abcdef")

func testDownloadConfig() domain.DownloadConfig {
	cfg := domain.DefaultConfig().Download
	cfg.MaxConcurrentSegments = 4
	cfg.MaxAttempts = 1
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	cfg.RateLimitCooldown = 2 * time.Millisecond
	cfg.RequestTimeout = 5 * time.Second
	cfg.RatePerHost = 0
	return cfg
}

// fakeCDN serves a playlist, its segments and an AES key
type fakeCDN struct {
	server      *httptest.Server
	manifest    string
	segments    [][]byte
	failing     map[int]bool
	segmentHits atomic.Int32
	keyHits     atomic.Int32
	block       func(i int, r *http.Request)
}

func newFakeCDN(t *testing.T, manifest string, segments [][]byte) *fakeCDN {
	cdn := &fakeCDN{manifest: manifest, segments: segments, failing: map[int]bool{}}
	cdn.server = httptest.NewServer(http.HandlerFunc(cdn.serve))
	t.Cleanup(cdn.server.Close)
	return cdn
}

func (c *fakeCDN) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/index.m3u8":
		w.Write([]byte(c.manifest))
	case r.URL.Path == "/key":
		c.keyHits.Add(1)
		w.Write(testKey)
	case strings.HasPrefix(r.URL.Path, "/seg"):
		c.segmentHits.Add(1)
		var i int
		if _, err := fmt.Sscanf(r.URL.Path, "/seg%03d.ts", &i); err != nil || i >= len(c.segments) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if c.block != nil {
			c.block(i, r)
		}
		if c.failing[i] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(c.segments[i])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (c *fakeCDN) url(p string) string {
	return c.server.URL + p
}

func playlist(n int, header string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n")
	b.WriteString(header)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:10.0,\nseg%03d.ts\n", i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func clearSegments(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("<segment %03d>", i))
	}
	return out
}

func encrypt(t *testing.T, plain, key, iv []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

func newTestController(t *testing.T, cfg domain.DownloadConfig) (*JobController, *infrastructure.ResolverRegistry) {
	store, err := infrastructure.NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)
	registry := infrastructure.NewResolverRegistry()
	return NewJobController(infrastructure.NewLinkClassifier(), registry, store, cfg, zap.NewNop()), registry
}

func joined(segments [][]byte, skip map[int]bool) []byte {
	var b bytes.Buffer
	for i, s := range segments {
		if !skip[i] {
			b.Write(s)
		}
	}
	return b.Bytes()
}

func TestJobController_SucceedsAboveThreshold(t *testing.T) {
	segs := clearSegments(10)
	cdn := newFakeCDN(t, playlist(10, ""), segs)
	cdn.failing[7] = true

	c, _ := newTestController(t, testDownloadConfig())
	res := c.Run(context.Background(), domain.JobRequest{ID: "job-ok", URL: cdn.url("/index.m3u8")}, nil)

	assert.Equal(t, domain.PhaseSucceeded, res.Phase)
	assert.Empty(t, res.ErrorKind)
	assert.Equal(t, 10, res.SegmentsTotal)
	assert.Equal(t, 9, res.SegmentsOK)
	assert.InDelta(t, 0.9, res.CompletionRatio, 1e-9)

	data, err := os.ReadFile(res.ArtifactRef)
	require.NoError(t, err)
	assert.Equal(t, joined(segs, cdn.failing), data)
	assert.Equal(t, int64(len(data)), res.ArtifactBytes)
}

func TestJobController_PartialBetweenThresholds(t *testing.T) {
	segs := clearSegments(10)
	cdn := newFakeCDN(t, playlist(10, ""), segs)
	cdn.failing[1], cdn.failing[4], cdn.failing[9] = true, true, true

	c, _ := newTestController(t, testDownloadConfig())
	res := c.Run(context.Background(), domain.JobRequest{ID: "job-partial", URL: cdn.url("/index.m3u8")}, nil)

	assert.Equal(t, domain.PhasePartial, res.Phase)
	assert.Equal(t, 7, res.SegmentsOK)
	assert.InDelta(t, 0.7, res.CompletionRatio, 1e-9)
	require.NotEmpty(t, res.ArtifactRef)

	data, err := os.ReadFile(res.ArtifactRef)
	require.NoError(t, err)
	assert.Equal(t, joined(segs, cdn.failing), data)
}

func TestJobController_AllSegmentsFail(t *testing.T) {
	cdn := newFakeCDN(t, playlist(4, ""), clearSegments(4))
	for i := 0; i < 4; i++ {
		cdn.failing[i] = true
	}

	c, _ := newTestController(t, testDownloadConfig())
	res := c.Run(context.Background(), domain.JobRequest{ID: "job-fail", URL: cdn.url("/index.m3u8")}, nil)

	assert.Equal(t, domain.PhaseFailed, res.Phase)
	assert.Equal(t, domain.KindJobBelowThreshold, res.ErrorKind)
	assert.Equal(t, 0.0, res.CompletionRatio)
	assert.Empty(t, res.ArtifactRef)

	entries, err := os.ReadDir(c.store.(*infrastructure.FileArtifactStore).Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJobController_UnsupportedCipherFetchesNothing(t *testing.T) {
	cdn := newFakeCDN(t, playlist(5, "#EXT-X-KEY:METHOD=SAMPLE-AES,URI=\"key\"\n"), clearSegments(5))

	c, _ := newTestController(t, testDownloadConfig())
	res := c.Run(context.Background(), domain.JobRequest{URL: cdn.url("/index.m3u8")}, nil)

	assert.Equal(t, domain.PhaseFailed, res.Phase)
	assert.Equal(t, domain.KindUnsupportedCipher, res.ErrorKind)
	assert.Equal(t, int32(0), cdn.segmentHits.Load())
	assert.Equal(t, int32(0), cdn.keyHits.Load())
}

func TestJobController_EncryptedStream(t *testing.T) {
	const firstSeq = 5
	plain := clearSegments(6)
	enc := make([][]byte, len(plain))
	for i, p := range plain {
		enc[i] = encrypt(t, p, testKey, domain.SequenceIV(uint64(firstSeq+i)))
	}
	header := fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n#EXT-X-KEY:METHOD=AES-128,URI=\"key\"\n", firstSeq)
	cdn := newFakeCDN(t, playlist(6, header), enc)

	c, _ := newTestController(t, testDownloadConfig())
	res := c.Run(context.Background(), domain.JobRequest{URL: cdn.url("/index.m3u8")}, nil)
	require.Equal(t, domain.PhaseSucceeded, res.Phase, res.ErrorMessage)

	data, err := os.ReadFile(res.ArtifactRef)
	require.NoError(t, err)
	assert.Equal(t, joined(plain, nil), data)
	assert.Equal(t, int32(1), cdn.keyHits.Load())
}

func TestJobController_UndecryptableSegmentsFail(t *testing.T) {
	// Clear bodies are not block aligned, so every decrypt fails
	cdn := newFakeCDN(t, playlist(3, "#EXT-X-KEY:METHOD=AES-128,URI=\"key\"\n"), clearSegments(3))

	c, _ := newTestController(t, testDownloadConfig())
	res := c.Run(context.Background(), domain.JobRequest{URL: cdn.url("/index.m3u8")}, nil)

	assert.Equal(t, domain.PhaseFailed, res.Phase)
	assert.Equal(t, domain.KindJobBelowThreshold, res.ErrorKind)
	assert.Equal(t, 0, res.SegmentsOK)
	assert.Equal(t, int32(1), cdn.keyHits.Load())
}

func TestJobController_IdempotentOutput(t *testing.T) {
	segs := clearSegments(8)
	cdn := newFakeCDN(t, playlist(8, ""), segs)
	cdn.failing[3] = true

	c, _ := newTestController(t, testDownloadConfig())
	first := c.Run(context.Background(), domain.JobRequest{ID: "same", URL: cdn.url("/index.m3u8")}, nil)
	a, err := os.ReadFile(first.ArtifactRef)
	require.NoError(t, err)

	second := c.Run(context.Background(), domain.JobRequest{ID: "same", URL: cdn.url("/index.m3u8")}, nil)
	b, err := os.ReadFile(second.ArtifactRef)
	require.NoError(t, err)

	assert.Equal(t, first.Phase, second.Phase)
	assert.Equal(t, a, b)
}

func TestJobController_CancelMidFetchIsNotSucceeded(t *testing.T) {
	cdn := newFakeCDN(t, playlist(10, ""), clearSegments(10))
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	cdn.block = func(i int, r *http.Request) {
		if i < 2 {
			return
		}
		once.Do(cancel)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}

	cfg := testDownloadConfig()
	cfg.MaxConcurrentSegments = 2
	c, _ := newTestController(t, cfg)

	res := c.Run(ctx, domain.JobRequest{URL: cdn.url("/index.m3u8")}, nil)

	assert.NotEqual(t, domain.PhaseSucceeded, res.Phase)
	assert.True(t, res.Phase.IsTerminal())
	assert.Equal(t, domain.KindCancelled, res.ErrorKind)
	assert.Less(t, res.SegmentsOK, 10)
	assert.Less(t, cdn.segmentHits.Load(), int32(10))
}

func TestJobController_CancelledBeforeStart(t *testing.T) {
	cdn := newFakeCDN(t, playlist(3, ""), clearSegments(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, _ := newTestController(t, testDownloadConfig())
	res := c.Run(ctx, domain.JobRequest{URL: cdn.url("/index.m3u8")}, nil)

	assert.Equal(t, domain.PhaseFailed, res.Phase)
	assert.Equal(t, domain.KindCancelled, res.ErrorKind)
	assert.Equal(t, int32(0), cdn.segmentHits.Load())
}

func TestJobController_ReportsPhases(t *testing.T) {
	cdn := newFakeCDN(t, playlist(3, ""), clearSegments(3))

	var mu sync.Mutex
	var phases []domain.Phase
	progress := func(p domain.JobProgress) {
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
	}

	c, _ := newTestController(t, testDownloadConfig())
	res := c.Run(context.Background(), domain.JobRequest{URL: cdn.url("/index.m3u8")}, progress)
	require.Equal(t, domain.PhaseSucceeded, res.Phase)

	assert.Equal(t, []domain.Phase{
		domain.PhaseClassifying,
		domain.PhaseParsing,
		domain.PhaseFetching,
		domain.PhaseAssembling,
		domain.PhaseSucceeded,
	}, phases)
}

func TestJobController_DirectMedia(t *testing.T) {
	body := []byte("an entire mp4 file")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer server.Close()

	c, _ := newTestController(t, testDownloadConfig())
	res := c.Run(context.Background(), domain.JobRequest{ID: "media", URL: server.URL + "/video.mp4"}, nil)
	require.Equal(t, domain.PhaseSucceeded, res.Phase)
	assert.True(t, strings.HasSuffix(res.ArtifactRef, "media.mp4"))

	data, err := os.ReadFile(res.ArtifactRef)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestJobController_CoursePageNeedsCredentials(t *testing.T) {
	c, _ := newTestController(t, testDownloadConfig())
	res := c.Run(context.Background(), domain.JobRequest{URL: "https://appabc123.h5.xiaoeknow.com/detail/l_abc"}, nil)

	assert.Equal(t, domain.PhaseFailed, res.Phase)
	assert.Equal(t, domain.KindConfigError, res.ErrorKind)
}

func TestJobController_InvalidLink(t *testing.T) {
	c, _ := newTestController(t, testDownloadConfig())
	res := c.Run(context.Background(), domain.JobRequest{URL: "ftp://example.com/a.m3u8"}, nil)

	assert.Equal(t, domain.PhaseFailed, res.Phase)
	assert.Equal(t, domain.KindInvalidURL, res.ErrorKind)
	assert.Equal(t, domain.KindInvalidURL.Description(), res.ErrorMessage)
}

type stubResolver struct {
	source *domain.ResolvedSource
	err    error
	calls  atomic.Int32
}

func (s *stubResolver) Resolve(ctx context.Context, url string, creds domain.Credentials) (*domain.ResolvedSource, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.source, nil
}

func TestJobController_ResolvesCoursePage(t *testing.T) {
	segs := clearSegments(3)
	cdn := newFakeCDN(t, playlist(3, ""), segs)

	c, registry := newTestController(t, testDownloadConfig())
	resolver := &stubResolver{source: &domain.ResolvedSource{ManifestURL: cdn.url("/index.m3u8"), Title: "Lesson"}}
	require.NoError(t, registry.Register(domain.PlatformXiaoe, infrastructure.XiaoeLinkPattern, resolver))

	res := c.Run(context.Background(), domain.JobRequest{
		URL:         "https://appabc123.h5.xiaoeknow.com/detail/l_abc",
		Credentials: domain.Credentials{Cookie: "ko_token=abcdef123456"},
	}, nil)

	require.Equal(t, domain.PhaseSucceeded, res.Phase, res.ErrorMessage)
	assert.Equal(t, domain.PlatformXiaoe, res.Source.Platform)
	assert.Equal(t, "Lesson", res.Source.Title)
	assert.Equal(t, domain.LinkNeedsResolution, res.Classification.Kind)
	assert.Equal(t, int32(1), resolver.calls.Load())
}

func TestJobController_ResolverKeyHintOverridesPlaylistKey(t *testing.T) {
	plain := clearSegments(4)
	enc := make([][]byte, len(plain))
	for i, p := range plain {
		enc[i] = encrypt(t, p, testKey, domain.SequenceIV(uint64(i)))
	}
	// The playlist key URI is not served; only the resolver's hint is
	cdn := newFakeCDN(t, playlist(4, "#EXT-X-KEY:METHOD=AES-128,URI=\"stale-key\"\n"), enc)

	c, registry := newTestController(t, testDownloadConfig())
	resolver := &stubResolver{source: &domain.ResolvedSource{
		ManifestURL: cdn.url("/index.m3u8"),
		KeyHint:     cdn.url("/key"),
	}}
	require.NoError(t, registry.Register(domain.PlatformXiaoe, infrastructure.XiaoeLinkPattern, resolver))

	res := c.Run(context.Background(), domain.JobRequest{
		URL:         "https://appabc123.h5.xiaoeknow.com/detail/l_abc",
		Credentials: domain.Credentials{Cookie: "ko_token=abcdef123456"},
	}, nil)

	require.Equal(t, domain.PhaseSucceeded, res.Phase, res.ErrorMessage)
	data, err := os.ReadFile(res.ArtifactRef)
	require.NoError(t, err)
	assert.Equal(t, joined(plain, nil), data)
	assert.Equal(t, int32(1), cdn.keyHits.Load())
}

func TestJobController_UnresolvableSegmentsCountAsFailed(t *testing.T) {
	segs := clearSegments(4)
	manifest := strings.Replace(playlist(4, ""), "seg002.ts", "ftp://legacy.example.com/seg002.ts", 1)
	cdn := newFakeCDN(t, manifest, segs)

	var mu sync.Mutex
	var last domain.JobProgress
	progress := func(p domain.JobProgress) {
		mu.Lock()
		defer mu.Unlock()
		last = p
	}

	c, _ := newTestController(t, testDownloadConfig())
	res := c.Run(context.Background(), domain.JobRequest{ID: "job-gap", URL: cdn.url("/index.m3u8")}, progress)

	assert.Equal(t, domain.PhasePartial, res.Phase)
	assert.True(t, res.Degraded)
	assert.Equal(t, 4, res.SegmentsTotal)
	assert.Equal(t, 3, res.SegmentsOK)
	assert.InDelta(t, 0.75, res.CompletionRatio, 1e-9)
	assert.Equal(t, int32(3), cdn.segmentHits.Load())

	mu.Lock()
	assert.Equal(t, 4, last.SegmentsTotal)
	assert.Equal(t, 1, last.SegmentsFailed)
	mu.Unlock()

	data, err := os.ReadFile(res.ArtifactRef)
	require.NoError(t, err)
	assert.Equal(t, joined(segs, map[int]bool{2: true}), data)
}

func TestJobController_ResolverErrorIsFatal(t *testing.T) {
	c, registry := newTestController(t, testDownloadConfig())
	resolver := &stubResolver{err: domain.NewError(domain.KindAuthRequired, "resolve", "platform requires login")}
	require.NoError(t, registry.Register(domain.PlatformXiaoe, infrastructure.XiaoeLinkPattern, resolver))

	res := c.Run(context.Background(), domain.JobRequest{
		URL:         "https://appabc123.h5.xiaoeknow.com/detail/l_abc",
		Credentials: domain.Credentials{Cookie: "ko_token=abcdef123456"},
	}, nil)

	assert.Equal(t, domain.PhaseFailed, res.Phase)
	assert.Equal(t, domain.KindAuthRequired, res.ErrorKind)
	assert.Equal(t, "platform requires login", res.ErrorMessage)
}

func TestJobController_Inspect(t *testing.T) {
	cdn := newFakeCDN(t, playlist(6, "#EXT-X-KEY:METHOD=AES-128,URI=\"key\"\n"), clearSegments(6))

	c, _ := newTestController(t, testDownloadConfig())
	info, err := c.Inspect(context.Background(), cdn.url("/index.m3u8"), domain.Credentials{})
	require.NoError(t, err)

	assert.Equal(t, domain.LinkDirectManifest, info.LinkKind)
	assert.Equal(t, domain.PlatformGeneric, info.Platform)
	assert.Equal(t, 6, info.SegmentCount)
	assert.True(t, info.Encrypted)
	assert.Equal(t, int32(0), cdn.segmentHits.Load())
	assert.Equal(t, int32(0), cdn.keyHits.Load())
}

func TestMediaExt(t *testing.T) {
	assert.Equal(t, ".mp4", mediaExt("https://cdn.example.com/a/VIDEO.MP4?x=1"))
	assert.Equal(t, ".ts", mediaExt("https://cdn.example.com/a/stream"))
}
