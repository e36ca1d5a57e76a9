package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewJob(t *testing.T) {
	job := NewJob("https://example.com/v/index.m3u8")

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, PhasePending, job.Phase)
	assert.True(t, job.IsPending())
	assert.False(t, job.IsTerminal())
}

func TestPhase_Transitions(t *testing.T) {
	assert.True(t, PhasePending.CanTransitionTo(PhaseClassifying))
	assert.True(t, PhaseClassifying.CanTransitionTo(PhaseResolving))
	assert.True(t, PhaseClassifying.CanTransitionTo(PhaseParsing))
	assert.True(t, PhaseParsing.CanTransitionTo(PhaseFailed))
	assert.True(t, PhaseAssembling.CanTransitionTo(PhasePartial))

	assert.False(t, PhaseParsing.CanTransitionTo(PhasePartial), "no partial credit before fetching")
	assert.False(t, PhaseResolving.CanTransitionTo(PhaseFetching))
	assert.False(t, PhaseSucceeded.CanTransitionTo(PhaseFailed))
}

func TestThresholds_Evaluate(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name  string
		ok    int
		total int
		want  Phase
	}{
		{"all ok", 10, 10, PhaseSucceeded},
		{"nine of ten", 9, 10, PhaseSucceeded},
		{"exactly eighty percent", 8, 10, PhaseSucceeded},
		{"seven of ten", 7, 10, PhasePartial},
		{"exactly partial floor", 5, 10, PhasePartial},
		{"below floor", 4, 10, PhaseFailed},
		{"all failed", 0, 10, PhaseFailed},
		{"empty", 0, 0, PhaseFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, th.Evaluate(tt.ok, tt.total))
		})
	}
}

func TestThresholds_ZeroFloorStillFailsWithoutSegments(t *testing.T) {
	th := Thresholds{Success: 0.8, Partial: 0}
	assert.Equal(t, PhaseFailed, th.Evaluate(0, 10))
}

func TestCompletionRatio(t *testing.T) {
	assert.Equal(t, 0.0, CompletionRatio(0, 0))
	assert.Equal(t, 0.0, CompletionRatio(0, 10))
	assert.InDelta(t, 0.7, CompletionRatio(7, 10), 1e-9)
	assert.Equal(t, 1.0, CompletionRatio(10, 10))
	assert.Equal(t, 1.0, CompletionRatio(12, 10))
}

func TestJob_MarkFailed(t *testing.T) {
	job := NewJob("https://example.com/a.m3u8")

	job.MarkFailed(NewError(KindMalformedManifest, "parse", "missing #EXTM3U"))
	assert.Equal(t, PhaseFailed, job.Phase)
	assert.Equal(t, KindMalformedManifest, job.ErrorKind)
	assert.Equal(t, "missing #EXTM3U", job.ErrorMessage)
	assert.NotNil(t, job.CompletedAt)

	job.MarkFailed(errors.New("raw socket error"))
	assert.Equal(t, KindInternal, job.ErrorKind)
	assert.Equal(t, "internal error", job.ErrorMessage)
}

func TestJob_ApplyResult(t *testing.T) {
	job := NewJob("https://example.com/a.m3u8")
	job.ApplyResult(&JobResult{
		Phase:           PhasePartial,
		SegmentsTotal:   10,
		SegmentsOK:      7,
		CompletionRatio: 0.7,
		ArtifactRef:     "/tmp/a.ts",
		ArtifactBytes:   700,
		Source:          &ResolvedSource{ManifestURL: "https://cdn/a.m3u8", Title: "Lesson 1"},
	})

	assert.Equal(t, PhasePartial, job.Phase)
	assert.Equal(t, 3, job.SegmentsFailed)
	assert.Equal(t, "https://cdn/a.m3u8", job.ManifestURL)
	assert.Equal(t, "Lesson 1", job.Title)
	assert.True(t, job.IsTerminal())
}

func TestSequenceIV(t *testing.T) {
	iv := SequenceIV(1)
	assert.Len(t, iv, 16)
	assert.Equal(t, byte(1), iv[15])
	for _, b := range iv[:15] {
		assert.Equal(t, byte(0), b)
	}

	d := SegmentDescriptor{MediaSequence: 258}
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 2}, d.EffectiveIV())

	explicit := []byte("0123456789abcdef")
	d.IV = explicit
	assert.Equal(t, explicit, d.EffectiveIV())
}

func TestByteRange_Header(t *testing.T) {
	assert.Equal(t, "bytes=100-199", ByteRange{Offset: 100, Length: 100}.Header())
}
