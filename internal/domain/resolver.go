package domain

import "context"

// Resolver resolves a course page link into a manifest location. One
// implementation exists per platform.
type Resolver interface {
	Resolve(ctx context.Context, url string, creds Credentials) (*ResolvedSource, error)
}

// ArtifactStore creates and removes assembled output artifacts. The caller
// owns artifact lifetime.
type ArtifactStore interface {
	// Create opens a new artifact for a job. ext includes the leading dot.
	Create(jobID, ext string) (ArtifactWriter, error)
	// Remove deletes an artifact by reference
	Remove(ref string) error
}

// ArtifactWriter is an open artifact
type ArtifactWriter interface {
	Write(p []byte) (int, error)
	Close() error
	Ref() string
}
