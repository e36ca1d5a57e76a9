package infrastructure

import (
	"context"
	"encoding/json"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/yourusername/course-extract-go/internal/domain"
	"go.uber.org/zap"
)

const resolveOp = "resolve"

var (
	resourceIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/detail/(l_[A-Za-z0-9]+)`),
		regexp.MustCompile(`/p/t_pc/live_pc/pc/(l_[A-Za-z0-9]+)`),
		regexp.MustCompile(`/p/course/[^/]+/(p_[A-Za-z0-9]+)`),
	}
	appIDPattern = regexp.MustCompile(`^(app[A-Za-z0-9]+)\.`)

	// Page scraping patterns, most specific first
	scrapePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"(?:video_url|play_url|playUrl|videoUrl|hls_url|m3u8_url)"\s*:\s*"([^"]*\.m3u8[^"]*)"`),
		regexp.MustCompile(`(?:videoUrl|playUrl|src|video|url)\s*[:=]\s*["']([^"']*\.m3u8[^"']*)["']`),
		regexp.MustCompile(`https?:(?:\\?/){2}[^"'\s<>]*\.m3u8[^"'\s<>]*`),
	}
	titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

	manifestFields = []string{"video_url", "play_url", "playUrl", "hls_url", "m3u8_url", "stream_url", "media_url"}
	keyFields      = []string{"key_url", "hls_key_url"}
)

// XiaoeResolver resolves Xiaoe-Tech course pages to HLS manifests
type XiaoeResolver struct {
	http   *platformClient
	cfg    domain.XiaoeConfig
	scheme string
	logger *zap.Logger
}

// NewXiaoeResolver creates a resolver
func NewXiaoeResolver(cfg domain.XiaoeConfig, download domain.DownloadConfig, logger *zap.Logger) *XiaoeResolver {
	return &XiaoeResolver{
		http:   newPlatformClient(download, logger),
		cfg:    cfg,
		scheme: "https",
		logger: logger,
	}
}

// Resolve asks the course detail API for the manifest, falling back to
// scraping the course page
func (r *XiaoeResolver) Resolve(ctx context.Context, pageURL string, creds domain.Credentials) (*domain.ResolvedSource, error) {
	page, err := url.Parse(pageURL)
	if err != nil || page.Host == "" {
		return nil, domain.NewError(domain.KindInvalidURL, resolveOp, "invalid course url")
	}

	resourceID := extractResourceID(page)
	appID := extractAppID(page.Host)
	if appID == "" {
		appID = creds.AppID
	}

	var apiErr error
	if resourceID != "" {
		source, err := r.resolveFromAPI(ctx, page, resourceID, appID, creds)
		if err == nil {
			return source, nil
		}
		switch domain.KindOf(err) {
		case domain.KindAuthRequired, domain.KindRateLimited, domain.KindCancelled, domain.KindPlatformUnreachable:
			return nil, err
		}
		apiErr = err
		r.logger.Debug("Course detail API had no manifest, scraping page",
			zap.String("resource_id", resourceID),
			zap.Error(err))
	}

	source, err := r.resolveFromPage(ctx, page, creds)
	if err != nil {
		if apiErr != nil && domain.KindOf(err) == domain.KindNotFound {
			return nil, apiErr
		}
		return nil, err
	}
	return source, nil
}

func (r *XiaoeResolver) apiBase(page *url.URL, creds domain.Credentials) string {
	if creds.Host != "" {
		return r.scheme + "://" + creds.Host
	}
	return page.Scheme + "://" + page.Host
}

func (r *XiaoeResolver) resolveFromAPI(ctx context.Context, page *url.URL, resourceID, appID string, creds domain.Credentials) (*domain.ResolvedSource, error) {
	endpoint := r.apiBase(page, creds) + r.cfg.CourseDetailPath
	payload := map[string]interface{}{
		"resource_id":   resourceID,
		"resource_type": r.cfg.ResourceType,
		"app_id":        appID,
	}

	resp, err := r.http.postJSON(ctx, resolveOp, endpoint, page.String(), payload, creds)
	if err != nil {
		return nil, err
	}
	if err := checkPlatformStatus(resp); err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, domain.WrapError(domain.KindNotFound, resolveOp, err)
	}
	if env.Code != 0 {
		if isLoginCode(env.Code, env.Msg) {
			return nil, domain.NewError(domain.KindAuthRequired, resolveOp, "platform requires login")
		}
		return nil, domain.NewError(domain.KindNotFound, resolveOp, "course detail is unavailable")
	}

	var data map[string]interface{}
	if len(env.Data) == 0 || json.Unmarshal(env.Data, &data) != nil || len(data) == 0 {
		return nil, domain.NewError(domain.KindNotFound, resolveOp, "course detail is empty")
	}

	access := courseAccess(page, data)
	if access != nil && !access.Viewable() {
		r.logger.Info("Course is not viewable with this session",
			zap.String("resource_id", resourceID),
			zap.Bool("have_password", access.HavePassword),
			zap.Bool("is_stop_sell", access.IsStopSell))
		return nil, domain.NewError(domain.KindAuthRequired, resolveOp, "no permission for this course")
	}

	manifest := firstString(data, manifestFields...)
	keyHint := firstString(data, keyFields...)
	if media, ok := data["media"].(map[string]interface{}); ok {
		if manifest == "" {
			manifest = firstString(media, manifestFields...)
		}
		if keyHint == "" {
			keyHint = firstString(media, keyFields...)
		}
	}
	if manifest == "" {
		return nil, domain.NewError(domain.KindNotFound, resolveOp, "course detail has no video url")
	}

	if keyHint != "" {
		keyHint = absolutize(page, unescapeURL(keyHint))
	}

	title, _ := data["title"].(string)
	return &domain.ResolvedSource{
		ManifestURL: absolutize(page, unescapeURL(manifest)),
		KeyHint:     keyHint,
		Platform:    domain.PlatformXiaoe,
		Title:       strings.TrimSpace(title),
		Access:      access,
	}, nil
}

// courseAccess reads the access flags of a course detail, or nil when the
// platform did not report a permission
func courseAccess(page *url.URL, data map[string]interface{}) *domain.CourseAccess {
	if _, ok := data["permission"]; !ok {
		return nil
	}
	access := &domain.CourseAccess{
		HasPermission: flagSet(data["permission"]),
		IsFree:        flagSet(data["is_free"]),
		IsPublic:      flagSet(data["is_public"]),
		HavePassword:  flagSet(data["have_password"]),
		IsStopSell:    flagSet(data["is_stop_sell"]),
	}
	if jump := firstString(data, "jump_url"); jump != "" {
		access.JumpURL = absolutize(page, unescapeURL(jump))
	}
	return access
}

// flagSet reads a 0/1 platform flag, which may arrive as number, bool or string
func flagSet(v interface{}) bool {
	switch x := v.(type) {
	case float64:
		return x == 1
	case bool:
		return x
	case string:
		return x == "1" || strings.EqualFold(x, "true")
	}
	return false
}

func (r *XiaoeResolver) resolveFromPage(ctx context.Context, page *url.URL, creds domain.Credentials) (*domain.ResolvedSource, error) {
	resp, err := r.http.get(ctx, resolveOp, page.String(), creds)
	if err != nil {
		return nil, err
	}
	if isLoginPage(resp.FinalURL) {
		return nil, domain.NewError(domain.KindAuthRequired, resolveOp, "course page redirected to login")
	}
	if err := checkPlatformStatus(resp); err != nil {
		return nil, err
	}

	text := string(resp.Body)
	for _, re := range scrapePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		found := m[0]
		if len(m) > 1 {
			found = m[1]
		}
		source := &domain.ResolvedSource{
			ManifestURL: absolutize(page, unescapeURL(found)),
			Platform:    domain.PlatformXiaoe,
		}
		if t := titlePattern.FindStringSubmatch(text); t != nil {
			source.Title = strings.TrimSpace(html.UnescapeString(t[1]))
		}
		return source, nil
	}

	return nil, domain.NewError(domain.KindNotFound, resolveOp, "no manifest found on course page")
}

func checkPlatformStatus(resp *platformResponse) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.NewError(domain.KindAuthRequired, resolveOp, "platform rejected the session")
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return domain.NewError(domain.KindNotFound, resolveOp, "course not found")
	case resp.StatusCode >= 300:
		return domain.WrapError(domain.KindPlatformUnreachable, resolveOp, &StatusError{StatusCode: resp.StatusCode})
	}
	return nil
}

func extractResourceID(u *url.URL) string {
	for _, re := range resourceIDPatterns {
		if m := re.FindStringSubmatch(u.Path); m != nil {
			return m[1]
		}
	}
	if from := u.Query().Get("from"); strings.HasPrefix(from, "p_") {
		return from
	}
	return ""
}

func extractAppID(host string) string {
	if m := appIDPattern.FindStringSubmatch(strings.ToLower(host)); m != nil {
		return m[1]
	}
	return ""
}

func firstString(data map[string]interface{}, fields ...string) string {
	for _, f := range fields {
		if s, ok := data[f].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

var urlUnescaper = strings.NewReplacer(`\/`, "/", `\u002F`, "/", `\u002f`, "/", "&amp;", "&")

func unescapeURL(s string) string {
	return urlUnescaper.Replace(s)
}

// absolutize resolves protocol-relative and root-relative links against page
func absolutize(page *url.URL, link string) string {
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	return page.ResolveReference(ref).String()
}
