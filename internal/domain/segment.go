package domain

import (
	"encoding/binary"
	"fmt"
)

// ByteRange is an EXT-X-BYTERANGE sub-range of a segment resource
type ByteRange struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// Header returns the HTTP Range header value for the range
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
}

// SegmentDescriptor describes one fetchable media segment
type SegmentDescriptor struct {
	Sequence      uint64     `json:"sequence"`       // 0-based position in the playlist
	MediaSequence uint64     `json:"media_sequence"` // EXT-X-MEDIA-SEQUENCE based number
	URI           string     `json:"uri"`
	ByteRange     *ByteRange `json:"byte_range,omitempty"`
	KeyURI        string     `json:"key_uri,omitempty"`
	IV            []byte     `json:"iv,omitempty"`
}

// Encrypted reports whether the segment needs decryption
func (d SegmentDescriptor) Encrypted() bool {
	return d.KeyURI != ""
}

// EffectiveIV returns the explicit IV, or the media sequence number encoded
// as a big-endian 128-bit integer
func (d SegmentDescriptor) EffectiveIV() []byte {
	if len(d.IV) == 16 {
		return d.IV
	}
	return SequenceIV(d.MediaSequence)
}

// SequenceIV encodes a sequence number as a 16-byte big-endian IV
func SequenceIV(seq uint64) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint64(iv[8:], seq)
	return iv
}

// IVSource records where a key's IVs come from
type IVSource string

const (
	IVExplicit     IVSource = "explicit-per-segment"
	IVFromSequence IVSource = "derived-from-sequence-number"
)

// CipherKey is a fetched AES-128 key
type CipherKey struct {
	Bytes    [16]byte
	IVSource IVSource
}

// ParsedManifest is the output of the manifest parser. Exactly one of
// VariantURI (master playlist) or Segments (media playlist) is set.
type ParsedManifest struct {
	VariantURI       string
	VariantBandwidth uint32
	Segments         []SegmentDescriptor
	DefaultKeyURI    string
	Degraded         bool
	// Dropped holds the positions of segments whose URI could not be resolved
	Dropped []uint64
}

// IsMaster reports whether the parsed manifest was a master playlist
func (m *ParsedManifest) IsMaster() bool {
	return m.VariantURI != ""
}

// SegmentStatus is the terminal status of one segment
type SegmentStatus string

const (
	SegmentOK     SegmentStatus = "ok"
	SegmentFailed SegmentStatus = "failed"
)

// SegmentResult is the outcome of fetching and decrypting one segment
type SegmentResult struct {
	Sequence  uint64
	Status    SegmentStatus
	Data      []byte
	ErrorKind ErrorKind
}
