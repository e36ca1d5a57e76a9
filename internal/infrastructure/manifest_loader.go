package infrastructure

import (
	"context"

	"github.com/yourusername/course-extract-go/internal/domain"
	"go.uber.org/zap"
)

// Getter downloads a URL with the session credentials
type Getter interface {
	Get(ctx context.Context, rawURL string, br *domain.ByteRange, creds domain.Credentials) ([]byte, error)
}

// ManifestLoader downloads a manifest and follows a master playlist to its
// selected variant
type ManifestLoader struct {
	getter Getter
	parser *ManifestParser
	logger *zap.Logger
}

// NewManifestLoader creates a loader
func NewManifestLoader(getter Getter, parser *ManifestParser, logger *zap.Logger) *ManifestLoader {
	return &ManifestLoader{getter: getter, parser: parser, logger: logger}
}

// Load returns the media playlist behind manifestURL
func (l *ManifestLoader) Load(ctx context.Context, manifestURL string, creds domain.Credentials) (*domain.ParsedManifest, error) {
	parsed, err := l.fetchAndParse(ctx, manifestURL, creds)
	if err != nil {
		return nil, err
	}
	if !parsed.IsMaster() {
		return parsed, nil
	}

	l.logger.Debug("Following master playlist variant",
		zap.String("variant", parsed.VariantURI),
		zap.Uint32("bandwidth", parsed.VariantBandwidth))

	variant, err := l.fetchAndParse(ctx, parsed.VariantURI, creds)
	if err != nil {
		return nil, err
	}
	if variant.IsMaster() {
		return nil, domain.NewError(domain.KindMalformedManifest, parseOp, "variant is itself a master playlist")
	}
	return variant, nil
}

func (l *ManifestLoader) fetchAndParse(ctx context.Context, manifestURL string, creds domain.Credentials) (*domain.ParsedManifest, error) {
	text, err := l.getter.Get(ctx, manifestURL, nil, creds)
	if err != nil {
		return nil, err
	}
	return l.parser.Parse(text, manifestURL)
}
