package infrastructure

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/yourusername/course-extract-go/internal/domain"
)

const classifyOp = "classify"

// LinkSignature is one row of the classification table
type LinkSignature struct {
	Name  string
	Kind  domain.LinkKind
	Match func(u *url.URL) bool
	// Platform tags a matched link. Nil uses platformForHost.
	Platform func(u *url.URL) domain.Platform
}

// LinkClassifier classifies links by walking an ordered signature table
type LinkClassifier struct {
	mu         sync.RWMutex
	signatures []LinkSignature
}

var (
	xiaoeCDNHosts = []string{"xiaoeknow.com", "xiaoe-tech.com", "xet.tech", "myqcloud.com"}
	xiaoePageHost = []string{"xiaoeknow.com", "xiaoe-tech.com", "xet.tech", "xet.citv.cn", "hctestedu.com", "xiaoe.com"}
	mediaExts     = map[string]bool{".mp4": true, ".ts": true, ".m4v": true, ".mov": true, ".flv": true}

	coursePathPattern = regexp.MustCompile(`^/(detail/l_[A-Za-z0-9]+|p/course/|p/t_pc/live_pc/pc/l_[A-Za-z0-9]+)`)
)

// NewLinkClassifier creates a classifier with the built-in signatures
func NewLinkClassifier() *LinkClassifier {
	c := &LinkClassifier{}
	c.Register(LinkSignature{
		Name: "hls-manifest",
		Kind: domain.LinkDirectManifest,
		Match: func(u *url.URL) bool {
			return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
		},
	})
	c.Register(LinkSignature{
		Name: "media-file",
		Kind: domain.LinkDirectMedia,
		Match: func(u *url.URL) bool {
			return mediaExts[strings.ToLower(path.Ext(u.Path))]
		},
	})
	c.Register(LinkSignature{
		Name: "xiaoe-course-page",
		Kind: domain.LinkNeedsResolution,
		Match: func(u *url.URL) bool {
			return hostHasSuffix(u.Hostname(), xiaoePageHost...) || coursePathPattern.MatchString(u.Path)
		},
		Platform: func(*url.URL) domain.Platform { return domain.PlatformXiaoe },
	})
	return c
}

// Register appends a signature. Signatures are evaluated in registration order.
func (c *LinkClassifier) Register(sig LinkSignature) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signatures = append(c.signatures, sig)
}

// Classify classifies rawURL without any network access
func (c *LinkClassifier) Classify(rawURL string) (domain.Classification, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.Classification{}, domain.NewError(domain.KindInvalidURL, classifyOp, "link is not a valid http(s) url")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sig := range c.signatures {
		if !sig.Match(u) {
			continue
		}
		platform := platformForHost(u)
		if sig.Platform != nil {
			platform = sig.Platform(u)
		}
		return domain.Classification{Kind: sig.Kind, URL: u.String(), Platform: platform}, nil
	}

	return domain.Classification{}, domain.NewError(domain.KindUnsupportedPlatform, classifyOp, "link does not match any supported platform")
}

func platformForHost(u *url.URL) domain.Platform {
	if hostHasSuffix(u.Hostname(), xiaoeCDNHosts...) || hostHasSuffix(u.Hostname(), xiaoePageHost...) {
		return domain.PlatformXiaoe
	}
	return domain.PlatformGeneric
}

// hostHasSuffix reports whether host equals or is a subdomain of any suffix
func hostHasSuffix(host string, suffixes ...string) bool {
	host = strings.ToLower(host)
	for _, s := range suffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}
