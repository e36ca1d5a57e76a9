package app

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/yourusername/course-extract-go/internal/domain"
	"github.com/yourusername/course-extract-go/internal/infrastructure"
	"go.uber.org/zap"
)

const defaultSegmentExt = ".ts"

// JobController drives one job through classification, resolution,
// parsing, segment fetching and assembly
type JobController struct {
	classifier *infrastructure.LinkClassifier
	registry   *infrastructure.ResolverRegistry
	parser     *infrastructure.ManifestParser
	assembler  *infrastructure.StreamAssembler
	store      domain.ArtifactStore
	config     domain.DownloadConfig
	client     *http.Client
	logger     *zap.Logger
}

// NewJobController creates a job controller
func NewJobController(
	classifier *infrastructure.LinkClassifier,
	registry *infrastructure.ResolverRegistry,
	store domain.ArtifactStore,
	config domain.DownloadConfig,
	logger *zap.Logger,
) *JobController {
	return &JobController{
		classifier: classifier,
		registry:   registry,
		parser:     infrastructure.NewManifestParser(),
		assembler:  infrastructure.NewStreamAssembler(config.Thresholds()),
		store:      store,
		config:     config,
		logger:     logger,
	}
}

// SetHTTPClient replaces the client used for manifests, keys and segments
func (c *JobController) SetHTTPClient(client *http.Client) {
	c.client = client
}

// Run executes a job to a terminal result. It never returns nil. progress
// may be called from several goroutines at once.
func (c *JobController) Run(ctx context.Context, req domain.JobRequest, progress domain.JobProgressCallback) *domain.JobResult {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	r := &jobRun{
		c:        c,
		req:      req,
		progress: progress,
		phase:    domain.PhasePending,
		result:   &domain.JobResult{JobID: req.ID},
		logger:   c.logger.With(zap.String("job_id", req.ID)),
	}
	return r.run(ctx)
}

// Classify classifies a link without network access
func (c *JobController) Classify(rawURL string) (domain.Classification, error) {
	return c.classifier.Classify(rawURL)
}

// Platforms lists the platforms with a registered resolver
func (c *JobController) Platforms() []domain.Platform {
	return c.registry.Platforms()
}

// Inspect classifies and resolves a link and reads its manifest without
// downloading any segment
func (c *JobController) Inspect(ctx context.Context, rawURL string, creds domain.Credentials) (*domain.SourceInfo, error) {
	class, err := c.classifier.Classify(rawURL)
	if err != nil {
		return nil, err
	}

	source, err := c.resolve(ctx, class, creds)
	if err != nil {
		return nil, err
	}

	info := &domain.SourceInfo{
		LinkKind:    class.Kind,
		Platform:    source.Platform,
		ManifestURL: source.ManifestURL,
		KeyHint:     source.KeyHint,
		Title:       source.Title,
		Access:      source.Access,
	}
	if class.Kind == domain.LinkDirectMedia {
		info.SegmentCount = 1
		return info, nil
	}

	fetcher := c.newFetcher()
	manifest, err := infrastructure.NewManifestLoader(fetcher, c.parser, c.logger).Load(ctx, source.ManifestURL, creds)
	if err != nil {
		return nil, err
	}
	info.SegmentCount = len(manifest.Segments)
	info.Degraded = manifest.Degraded
	info.Encrypted = manifest.DefaultKeyURI != ""
	return info, nil
}

func (c *JobController) newFetcher() *infrastructure.SegmentFetcher {
	limiter := infrastructure.NewHostLimiter(c.config.RatePerHost, c.config.RateBurst)
	return infrastructure.NewSegmentFetcher(c.client, limiter, c.config, c.logger)
}

// resolve turns a classified link into the manifest location
func (c *JobController) resolve(ctx context.Context, class domain.Classification, creds domain.Credentials) (*domain.ResolvedSource, error) {
	if class.Kind != domain.LinkNeedsResolution {
		return &domain.ResolvedSource{ManifestURL: class.URL, Platform: class.Platform}, nil
	}

	if err := creds.Validate(); err != nil {
		return nil, err
	}
	resolver, platform, err := c.registry.Lookup(class.URL)
	if err != nil {
		return nil, err
	}
	source, err := resolver.Resolve(ctx, class.URL, creds)
	if err != nil {
		return nil, err
	}
	if source.Platform == "" {
		source.Platform = platform
	}
	return source, nil
}

// jobRun is the in-memory state of one Run call
type jobRun struct {
	c        *JobController
	req      domain.JobRequest
	progress domain.JobProgressCallback
	logger   *zap.Logger

	mu       sync.Mutex
	phase    domain.Phase
	total    int
	okCount  int
	failures int

	result *domain.JobResult
}

func (r *jobRun) run(ctx context.Context) *domain.JobResult {
	if err := r.advance(domain.PhaseClassifying); err != nil {
		return r.fail(err)
	}
	class, err := r.c.classifier.Classify(r.req.URL)
	if err != nil {
		return r.fail(err)
	}
	r.result.Classification = &class

	if class.Kind == domain.LinkNeedsResolution {
		if err := r.advance(domain.PhaseResolving); err != nil {
			return r.fail(err)
		}
	}
	source, err := r.c.resolve(ctx, class, r.req.Credentials)
	if err != nil {
		return r.fail(err)
	}
	r.result.Source = source
	if ctx.Err() != nil {
		return r.fail(ctx.Err())
	}

	if err := r.advance(domain.PhaseParsing); err != nil {
		return r.fail(err)
	}
	fetcher := r.c.newFetcher()
	descriptors, ext, dropped, err := r.descriptors(ctx, fetcher, class, source)
	if err != nil {
		return r.fail(err)
	}
	r.result.Degraded = len(dropped) > 0
	total := len(descriptors) + len(dropped)

	if err := r.advance(domain.PhaseFetching); err != nil {
		return r.fail(err)
	}
	r.mu.Lock()
	r.total = total
	r.mu.Unlock()

	keys := infrastructure.NewKeyCache(func(ctx context.Context, uri string) ([]byte, error) {
		return fetcher.Get(ctx, uri, nil, r.req.Credentials)
	})
	results := r.fetchAll(ctx, fetcher, keys, descriptors)
	cancelled := ctx.Err() != nil

	for _, seq := range dropped {
		res := domain.SegmentResult{Sequence: seq, Status: domain.SegmentFailed, ErrorKind: domain.KindSegmentFetchFailed}
		results = append(results, res)
		r.record(res)
	}

	if err := r.advance(domain.PhaseAssembling); err != nil {
		return r.fail(err)
	}
	return r.assemble(results, total, ext, cancelled)
}

// advance moves the run to next, rejecting illegal transitions
func (r *jobRun) advance(next domain.Phase) error {
	r.mu.Lock()
	if !r.phase.CanTransitionTo(next) {
		current := r.phase
		r.mu.Unlock()
		return domain.NewError(domain.KindInternal, "advance",
			"illegal phase transition "+string(current)+" -> "+string(next))
	}
	r.phase = next
	r.mu.Unlock()

	r.logger.Debug("Job phase changed", zap.String("phase", string(next)))
	r.report()
	return nil
}

func (r *jobRun) report() {
	if r.progress == nil {
		return
	}
	r.mu.Lock()
	snapshot := domain.JobProgress{
		JobID:          r.req.ID,
		Phase:          r.phase,
		Classification: r.result.Classification,
		Source:         r.result.Source,
		SegmentsTotal:  r.total,
		SegmentsOK:     r.okCount,
		SegmentsFailed: r.failures,
	}
	r.mu.Unlock()
	r.progress(snapshot)
}

// descriptors returns the segments to fetch, the artifact extension and the
// positions of playlist entries that could not be resolved. A direct media
// link becomes a single clear segment.
func (r *jobRun) descriptors(ctx context.Context, fetcher *infrastructure.SegmentFetcher, class domain.Classification, source *domain.ResolvedSource) ([]domain.SegmentDescriptor, string, []uint64, error) {
	if class.Kind == domain.LinkDirectMedia {
		return []domain.SegmentDescriptor{{URI: source.ManifestURL}}, mediaExt(source.ManifestURL), nil, nil
	}

	loader := infrastructure.NewManifestLoader(fetcher, r.c.parser, r.logger)
	manifest, err := loader.Load(ctx, source.ManifestURL, r.req.Credentials)
	if err != nil {
		return nil, "", nil, err
	}

	segments := manifest.Segments
	if source.KeyHint != "" {
		for i := range segments {
			if segments[i].Encrypted() {
				segments[i].KeyURI = source.KeyHint
			}
		}
	}

	r.logger.Info("Manifest parsed",
		zap.Int("segments", len(segments)),
		zap.Bool("encrypted", manifest.DefaultKeyURI != ""),
		zap.Int("dropped", len(manifest.Dropped)))
	return segments, defaultSegmentExt, manifest.Dropped, nil
}

// fetchAll fetches and decrypts descriptors on a bounded worker pool.
// Descriptors not started before cancellation are failed as Cancelled.
func (r *jobRun) fetchAll(ctx context.Context, fetcher *infrastructure.SegmentFetcher, keys *infrastructure.KeyCache, descriptors []domain.SegmentDescriptor) []domain.SegmentResult {
	results := make([]domain.SegmentResult, len(descriptors))
	work := make(chan int)

	workers := r.c.config.MaxConcurrentSegments
	if workers < 1 {
		workers = 1
	}
	if workers > len(descriptors) {
		workers = len(descriptors)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				results[i] = r.processSegment(ctx, fetcher, keys, descriptors[i])
				r.record(results[i])
			}
		}()
	}

feed:
	for i := range descriptors {
		if ctx.Err() != nil {
			break
		}
		select {
		case work <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	for i, d := range descriptors {
		if results[i].Status == "" {
			results[i] = domain.SegmentResult{Sequence: d.Sequence, Status: domain.SegmentFailed, ErrorKind: domain.KindCancelled}
			r.record(results[i])
		}
	}
	return results
}

func (r *jobRun) processSegment(ctx context.Context, fetcher *infrastructure.SegmentFetcher, keys *infrastructure.KeyCache, d domain.SegmentDescriptor) domain.SegmentResult {
	failed := func(err error) domain.SegmentResult {
		kind := domain.KindOf(err)
		if kind != domain.KindCancelled {
			r.logger.Warn("Segment failed",
				zap.Uint64("sequence", d.Sequence),
				zap.String("kind", string(kind)),
				zap.Error(err))
		}
		return domain.SegmentResult{Sequence: d.Sequence, Status: domain.SegmentFailed, ErrorKind: kind}
	}

	if ctx.Err() != nil {
		return failed(ctx.Err())
	}

	raw, err := fetcher.Fetch(ctx, d, r.req.Credentials)
	if err != nil {
		return failed(err)
	}

	if d.Encrypted() {
		key, err := keys.Get(ctx, d)
		if err != nil {
			return failed(err)
		}
		raw, err = infrastructure.Decrypt(raw, key.Bytes[:], d.EffectiveIV())
		if err != nil {
			return failed(err)
		}
	}

	return domain.SegmentResult{Sequence: d.Sequence, Status: domain.SegmentOK, Data: raw}
}

func (r *jobRun) record(res domain.SegmentResult) {
	r.mu.Lock()
	if res.Status == domain.SegmentOK {
		r.okCount++
	} else {
		r.failures++
	}
	r.mu.Unlock()
	r.report()
}

// assemble writes the artifact and settles the terminal phase. A cancelled
// run is never SUCCEEDED.
func (r *jobRun) assemble(results []domain.SegmentResult, total int, ext string, cancelled bool) *domain.JobResult {
	writer, err := r.c.store.Create(r.req.ID, ext)
	if err != nil {
		return r.fail(err)
	}

	assembly, err := r.c.assembler.Assemble(results, total, writer)
	closeErr := writer.Close()
	if err == nil && closeErr != nil {
		err = domain.WrapError(domain.KindInternal, "assemble", closeErr)
	}
	if err != nil {
		r.removeArtifact(writer.Ref())
		return r.fail(err)
	}

	phase := assembly.Phase
	kind := assembly.ErrorKind()
	if cancelled {
		kind = domain.KindCancelled
		if phase == domain.PhaseSucceeded {
			phase = domain.PhasePartial
		}
	}

	res := r.result
	res.SegmentsTotal = assembly.SegmentsTotal
	res.SegmentsOK = assembly.SegmentsOK
	res.CompletionRatio = assembly.CompletionRatio

	if phase == domain.PhaseFailed {
		r.removeArtifact(writer.Ref())
		return r.fail(domain.NewError(kind, "assemble", kind.Description()))
	}

	if err := r.advance(phase); err != nil {
		return r.fail(err)
	}
	res.Phase = phase
	res.ErrorKind = kind
	if kind != "" {
		res.ErrorMessage = kind.Description()
	}
	res.ArtifactRef = writer.Ref()
	res.ArtifactBytes = assembly.Bytes

	r.logger.Info("Job finished",
		zap.String("phase", string(phase)),
		zap.Int("segments_ok", res.SegmentsOK),
		zap.Int("segments_total", res.SegmentsTotal),
		zap.Float64("completion_ratio", res.CompletionRatio),
		zap.String("artifact", res.ArtifactRef))
	return res
}

func (r *jobRun) removeArtifact(ref string) {
	if err := r.c.store.Remove(ref); err != nil {
		r.logger.Warn("Failed to remove artifact", zap.String("artifact", ref), zap.Error(err))
	}
}

// fail settles the run as FAILED with the kind of err
func (r *jobRun) fail(err error) *domain.JobResult {
	de := domain.AsError(err)

	r.mu.Lock()
	r.phase = domain.PhaseFailed
	r.mu.Unlock()
	r.report()

	res := r.result
	res.Phase = domain.PhaseFailed
	res.ErrorKind = de.Kind
	res.ErrorMessage = de.PublicMessage()
	res.ArtifactRef = ""
	res.ArtifactBytes = 0

	r.logger.Info("Job failed",
		zap.String("kind", string(de.Kind)),
		zap.Error(err))
	return res
}

// mediaExt returns the extension of a direct media link
func mediaExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultSegmentExt
	}
	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
		return ext
	}
	return defaultSegmentExt
}
