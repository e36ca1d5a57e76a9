package domain

// LinkKind is the classification of an input link
type LinkKind string

const (
	LinkNeedsResolution LinkKind = "needs_resolution" // course page, resolved through the platform API
	LinkDirectManifest  LinkKind = "direct_manifest"  // CDN .m3u8 manifest
	LinkDirectMedia     LinkKind = "direct_media"     // single media file
)

// Platform tags the source platform of a link
type Platform string

const (
	PlatformXiaoe   Platform = "xiaoe"
	PlatformGeneric Platform = "generic"
)

// Classification is the result of classifying a link
type Classification struct {
	Kind     LinkKind `json:"kind"`
	URL      string   `json:"url"`
	Platform Platform `json:"platform"`
}

// ResolvedSource is the manifest location a job downloads from
type ResolvedSource struct {
	ManifestURL string   `json:"manifest_url"`
	KeyHint     string   `json:"key_hint,omitempty"`
	Platform    Platform `json:"platform"`
	Title       string   `json:"title,omitempty"`
	// Access is set when the platform reported the viewer's course access
	Access *CourseAccess `json:"access,omitempty"`
}

// CourseAccess is the access state a platform reports for a course
type CourseAccess struct {
	HasPermission bool   `json:"has_permission"`
	IsFree        bool   `json:"is_free"`
	IsPublic      bool   `json:"is_public"`
	HavePassword  bool   `json:"have_password"`
	IsStopSell    bool   `json:"is_stop_sell"`
	JumpURL       string `json:"jump_url,omitempty"`
}

// Viewable reports whether the course can be watched with the session
func (a CourseAccess) Viewable() bool {
	return a.HasPermission || a.IsFree || a.IsPublic
}
