package infrastructure

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/course-extract-go/internal/domain"
)

func TestLinkClassifier_Classify(t *testing.T) {
	c := NewLinkClassifier()

	tests := []struct {
		name     string
		url      string
		kind     domain.LinkKind
		platform domain.Platform
	}{
		{"xiaoe cdn manifest", "https://pri-cdn-tx.xiaoeknow.com/app/v.m3u8?sign=abc", domain.LinkDirectManifest, domain.PlatformXiaoe},
		{"vod manifest", "https://1252524126.vod2.myqcloud.com/x/y/playlist.m3u8", domain.LinkDirectManifest, domain.PlatformXiaoe},
		{"generic manifest", "https://cdn.example.com/live/INDEX.M3U8", domain.LinkDirectManifest, domain.PlatformGeneric},
		{"media file", "https://cdn.example.com/a/lesson.mp4", domain.LinkDirectMedia, domain.PlatformGeneric},
		{"ts file", "https://appabc.h5.xiaoeknow.com/seg.ts", domain.LinkDirectMedia, domain.PlatformXiaoe},
		{"course detail", "https://appisb9y2un7034.h5.xiaoeknow.com/v1/course/video/detail/l_64b8f0a8e4b0?type=2", domain.LinkNeedsResolution, domain.PlatformXiaoe},
		{"custom domain path", "https://www.hctestedu.com/p/course/column/p_608baa19e4b071a81eb6ebbc", domain.LinkNeedsResolution, domain.PlatformXiaoe},
		{"live page", "https://learn.example.org/p/t_pc/live_pc/pc/l_5f1234", domain.LinkNeedsResolution, domain.PlatformXiaoe},
		{"citv", "https://appisb9y2un7034.xet.citv.cn/detail/l_abc", domain.LinkNeedsResolution, domain.PlatformXiaoe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.platform, got.Platform)
		})
	}
}

func TestLinkClassifier_Errors(t *testing.T) {
	c := NewLinkClassifier()

	for _, raw := range []string{"", "not a url", "ftp://example.com/a.m3u8", "javascript:alert(1)", "https://"} {
		_, err := c.Classify(raw)
		require.Error(t, err, raw)
		assert.Equal(t, domain.KindInvalidURL, domain.KindOf(err), raw)
	}

	_, err := c.Classify("https://www.youtube.com/watch?v=abc")
	require.Error(t, err)
	assert.Equal(t, domain.KindUnsupportedPlatform, domain.KindOf(err))
}

func TestLinkClassifier_Register(t *testing.T) {
	c := NewLinkClassifier()
	c.Register(LinkSignature{
		Name:     "example-course",
		Kind:     domain.LinkNeedsResolution,
		Match:    func(u *url.URL) bool { return strings.HasPrefix(u.Path, "/lesson/") },
		Platform: func(*url.URL) domain.Platform { return "example" },
	})

	got, err := c.Classify("https://school.example.com/lesson/42")
	require.NoError(t, err)
	assert.Equal(t, domain.Platform("example"), got.Platform)

	// Earlier signatures still win
	got, err = c.Classify("https://school.example.com/lesson/42/index.m3u8")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkDirectManifest, got.Kind)
}

func TestHostHasSuffix(t *testing.T) {
	assert.True(t, hostHasSuffix("xiaoeknow.com", "xiaoeknow.com"))
	assert.True(t, hostHasSuffix("a.b.XIAOEKNOW.com", "xiaoeknow.com"))
	assert.False(t, hostHasSuffix("evilxiaoeknow.com", "xiaoeknow.com"))
}
