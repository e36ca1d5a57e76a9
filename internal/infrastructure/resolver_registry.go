package infrastructure

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/yourusername/course-extract-go/internal/domain"
)

type resolverEntry struct {
	platform domain.Platform
	pattern  *regexp.Regexp
	resolver domain.Resolver
}

// ResolverRegistry maps URL patterns to platform resolvers
type ResolverRegistry struct {
	mu      sync.RWMutex
	entries []resolverEntry
}

// NewResolverRegistry creates an empty registry
func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{}
}

// Register adds a resolver for links matching pattern
func (r *ResolverRegistry) Register(platform domain.Platform, pattern string, resolver domain.Resolver) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid resolver pattern %q: %w", pattern, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, resolverEntry{platform: platform, pattern: re, resolver: resolver})
	return nil
}

// Lookup returns the first resolver whose pattern matches rawURL
func (r *ResolverRegistry) Lookup(rawURL string) (domain.Resolver, domain.Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.pattern.MatchString(rawURL) {
			return e.resolver, e.platform, nil
		}
	}
	return nil, "", domain.NewError(domain.KindUnsupportedPlatform, "lookup resolver", "no resolver for link")
}

// Platforms lists the registered platforms in registration order
func (r *ResolverRegistry) Platforms() []domain.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[domain.Platform]bool)
	var out []domain.Platform
	for _, e := range r.entries {
		if !seen[e.platform] {
			seen[e.platform] = true
			out = append(out, e.platform)
		}
	}
	return out
}

// XiaoeLinkPattern matches Xiaoe-Tech course pages, including custom
// domains that use the platform's page paths
const XiaoeLinkPattern = `(?i)^https?://([^/]*\.)?(xiaoeknow\.com|xiaoe-tech\.com|xet\.tech|xet\.citv\.cn|hctestedu\.com|xiaoe\.com)(/|$|\?)|^https?://[^/]+/(detail/l_|p/course/|p/t_pc/live_pc/pc/l_)`
