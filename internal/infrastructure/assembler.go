package infrastructure

import (
	"io"
	"sort"

	"github.com/yourusername/course-extract-go/internal/domain"
)

// Assembly summarises an assembled artifact
type Assembly struct {
	SegmentsTotal   int
	SegmentsOK      int
	Bytes           int64
	CompletionRatio float64
	Phase           domain.Phase
}

// ErrorKind returns JobBelowThreshold for a failed assembly
func (a *Assembly) ErrorKind() domain.ErrorKind {
	if a.Phase == domain.PhaseFailed {
		return domain.KindJobBelowThreshold
	}
	return ""
}

// StreamAssembler concatenates decrypted segments in sequence order
type StreamAssembler struct {
	thresholds domain.Thresholds
}

// NewStreamAssembler creates an assembler using thresholds to decide outcomes
func NewStreamAssembler(thresholds domain.Thresholds) *StreamAssembler {
	return &StreamAssembler{thresholds: thresholds}
}

// Assemble writes every ok segment to w in ascending sequence order.
// Failed segments are skipped, not padded. total is the number of
// descriptors the job started with.
func (a *StreamAssembler) Assemble(results []domain.SegmentResult, total int, w io.Writer) (*Assembly, error) {
	ordered := make([]domain.SegmentResult, 0, len(results))
	seen := make(map[uint64]bool, len(results))
	for _, r := range results {
		if r.Status != domain.SegmentOK || seen[r.Sequence] {
			continue
		}
		seen[r.Sequence] = true
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	out := &Assembly{SegmentsTotal: total}
	for _, r := range ordered {
		n, err := w.Write(r.Data)
		out.Bytes += int64(n)
		if err != nil {
			return out, domain.WrapError(domain.KindInternal, "assemble", err)
		}
	}

	out.SegmentsOK = len(ordered)
	out.CompletionRatio = domain.CompletionRatio(out.SegmentsOK, total)
	out.Phase = a.thresholds.Evaluate(out.SegmentsOK, total)
	return out, nil
}
