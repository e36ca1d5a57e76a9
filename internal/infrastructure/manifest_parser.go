package infrastructure

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"
	"github.com/yourusername/course-extract-go/internal/domain"
)

const parseOp = "parse manifest"

const (
	methodNone   = "NONE"
	methodAES128 = "AES-128"
)

// ManifestParser turns HLS playlist text into segment descriptors
type ManifestParser struct{}

// NewManifestParser creates a parser
func NewManifestParser() *ManifestParser {
	return &ManifestParser{}
}

// Parse parses a master or media playlist. Relative URIs are resolved
// against baseURL.
func (p *ManifestParser) Parse(text []byte, baseURL string) (*domain.ParsedManifest, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, domain.WrapError(domain.KindMalformedManifest, parseOp, err)
	}

	trimmed := bytes.TrimLeft(text, "\ufeff \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("#EXTM3U")) {
		return nil, domain.NewError(domain.KindMalformedManifest, parseOp, "missing #EXTM3U header")
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(trimmed), false)
	if err != nil {
		return nil, domain.WrapError(domain.KindMalformedManifest, parseOp, err)
	}

	switch listType {
	case m3u8.MASTER:
		return p.parseMaster(playlist.(*m3u8.MasterPlaylist), base)
	case m3u8.MEDIA:
		return p.parseMedia(playlist.(*m3u8.MediaPlaylist), base)
	default:
		return nil, domain.NewError(domain.KindMalformedManifest, parseOp, "unknown playlist type")
	}
}

// parseMaster picks the variant with the highest declared bandwidth,
// keeping the first on ties
func (p *ManifestParser) parseMaster(master *m3u8.MasterPlaylist, base *url.URL) (*domain.ParsedManifest, error) {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	if best == nil {
		return nil, domain.NewError(domain.KindMalformedManifest, parseOp, "master playlist has no variants")
	}

	ref, err := base.Parse(strings.TrimSpace(best.URI))
	if err != nil {
		return nil, domain.WrapError(domain.KindMalformedManifest, parseOp, err)
	}

	return &domain.ParsedManifest{
		VariantURI:       ref.String(),
		VariantBandwidth: best.Bandwidth,
	}, nil
}

func (p *ManifestParser) parseMedia(media *m3u8.MediaPlaylist, base *url.URL) (*domain.ParsedManifest, error) {
	result := &domain.ParsedManifest{}

	// A key tag is attached only to the first segment after it and
	// applies to every following segment until the next one.
	var current *m3u8.Key
	var prev *domain.SegmentDescriptor

	for i, seg := range media.Segments {
		if seg == nil {
			break
		}
		if seg.Key != nil {
			if err := checkKey(seg.Key); err != nil {
				return nil, err
			}
			current = seg.Key
			if strings.EqualFold(current.Method, methodNone) {
				current = nil
			}
		}

		desc := domain.SegmentDescriptor{
			Sequence:      uint64(i),
			MediaSequence: media.SeqNo + uint64(i),
		}

		// Unresolvable segments leave a sequence gap and count as failed
		ref, err := base.Parse(strings.TrimSpace(seg.URI))
		if seg.URI == "" || err != nil || (ref.Scheme != "http" && ref.Scheme != "https") {
			result.Degraded = true
			result.Dropped = append(result.Dropped, uint64(i))
			continue
		}
		desc.URI = ref.String()

		if seg.Limit > 0 {
			offset := seg.Offset
			if offset == 0 && prev != nil && prev.ByteRange != nil && prev.URI == desc.URI {
				offset = prev.ByteRange.Offset + prev.ByteRange.Length
			}
			desc.ByteRange = &domain.ByteRange{Offset: offset, Length: seg.Limit}
		}

		if current != nil {
			keyRef, err := base.Parse(strings.TrimSpace(current.URI))
			if err != nil {
				return nil, domain.WrapError(domain.KindMalformedManifest, parseOp, err)
			}
			desc.KeyURI = keyRef.String()
			if result.DefaultKeyURI == "" {
				result.DefaultKeyURI = desc.KeyURI
			}
			if current.IV != "" {
				iv, err := parseIV(current.IV)
				if err != nil {
					return nil, err
				}
				desc.IV = iv
			}
		}

		result.Segments = append(result.Segments, desc)
		prev = &result.Segments[len(result.Segments)-1]
	}

	if len(result.Segments) == 0 {
		return nil, domain.NewError(domain.KindMalformedManifest, parseOp, "media playlist has no segments")
	}
	return result, nil
}

func checkKey(key *m3u8.Key) error {
	switch strings.ToUpper(key.Method) {
	case methodNone:
		return nil
	case methodAES128:
		if strings.TrimSpace(key.URI) == "" {
			return domain.NewError(domain.KindMalformedManifest, parseOp, "AES-128 key without URI")
		}
		if key.IV != "" {
			if _, err := parseIV(key.IV); err != nil {
				return err
			}
		}
		return nil
	case "":
		return domain.NewError(domain.KindMalformedManifest, parseOp, "key without METHOD")
	default:
		return domain.NewError(domain.KindUnsupportedCipher, parseOp, fmt.Sprintf("unsupported encryption method %s", key.Method))
	}
}

// parseIV decodes a 0x-prefixed 32 digit hex IV
func parseIV(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 32 {
		return nil, domain.NewError(domain.KindMalformedManifest, parseOp, "IV must be 32 hex digits")
	}
	iv, err := hex.DecodeString(s)
	if err != nil {
		return nil, domain.NewError(domain.KindMalformedManifest, parseOp, "IV must be 32 hex digits")
	}
	return iv, nil
}
