package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/frederic-klein/distsqueeze/internal/catalog"
	"github.com/frederic-klein/distsqueeze/internal/metrics"
	"github.com/frederic-klein/distsqueeze/internal/mirror"
	"github.com/frederic-klein/distsqueeze/internal/patch"
)

// Retriever fetches one file from an ordered list of candidate URIs.
type Retriever interface {
	Retrieve(ctx context.Context, uris []string, destPath string) (string, error)
}

// Transformer brings a retrieved record to its fully sized state.
type Transformer interface {
	Run(ctx context.Context, rec *patch.Record) error
	Exts() []string
}

// Job is one distfile to process.
type Job struct {
	Atom     catalog.Atom
	Filename string
	URIs     []string
}

// Result summarizes a run. Records holds only fully sized records, keyed
// by stem.
type Result struct {
	Records map[string]*patch.Record
	Planned int
	Fetched int
	Cached  int
	Failed  int
	Err     error // *multierror.Error of per-file failures, or nil
}

// Runner drives the scan: catalog enumeration and mirror expansion on a
// single submitting goroutine, retrieval and transforms on a worker pool.
type Runner struct {
	source    catalog.Source
	selector  *catalog.Selector
	resolver  *mirror.Resolver
	retriever Retriever
	engine    Transformer
	workDir   string
	workers   int
	logger    *zap.Logger
	metrics   *metrics.Metrics

	locks sync.Map // stem -> *sync.Mutex
}

// Options configures a Runner.
type Options struct {
	WorkDir string
	Workers int
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// NewRunner creates a runner.
func NewRunner(source catalog.Source, selector *catalog.Selector, resolver *mirror.Resolver, retriever Retriever, engine Transformer, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{
		source:    source,
		selector:  selector,
		resolver:  resolver,
		retriever: retriever,
		engine:    engine,
		workDir:   opts.WorkDir,
		workers:   opts.Workers,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

type outcome struct {
	job Job
	rec *patch.Record
	err error
}

// Run scans the whole catalog. It returns an error only when the catalog
// cannot be enumerated; per-file failures are collected in Result.Err.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	pkgs, err := r.source.ListPackages()
	if err != nil {
		return nil, fmt.Errorf("%w: listing packages: %v", catalog.ErrCatalogUnavailable, err)
	}

	jobs := make(chan Job, r.workers)
	outcomes := make(chan outcome, r.workers)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				rec, err := r.process(ctx, job)
				outcomes <- outcome{job: job, rec: rec, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		r.submit(ctx, pkgs, jobs)
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	return r.collect(outcomes), nil
}

// submit enumerates versions, filters and expands their fetch maps, and
// queues one job per distfile until ctx is done.
func (r *Runner) submit(ctx context.Context, pkgs []catalog.Atom, jobs chan<- Job) {
	for _, pkg := range pkgs {
		versions, err := r.source.ListVersions(pkg)
		if err != nil {
			r.logger.Warn("listing versions failed", zap.String("package", string(pkg)), zap.Error(err))
			continue
		}

		for _, atom := range versions {
			fm, err := r.Plan(atom)
			if err != nil {
				r.logger.Warn("reading fetch map failed", zap.String("atom", string(atom)), zap.Error(err))
				continue
			}

			for _, name := range fm.Names() {
				select {
				case jobs <- Job{Atom: atom, Filename: name, URIs: fm[name]}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Plan returns the filtered, mirror-expanded fetch map for one version.
func (r *Runner) Plan(atom catalog.Atom) (catalog.FetchMap, error) {
	fm, err := r.source.FetchMap(atom)
	if err != nil {
		return nil, err
	}
	fm = r.selector.Filter(fm)
	if len(fm) == 0 {
		return fm, nil
	}
	return r.resolver.Expand(fm), nil
}

func (r *Runner) collect(outcomes <-chan outcome) *Result {
	res := &Result{Records: make(map[string]*patch.Record)}
	var errs *multierror.Error

	for o := range outcomes {
		res.Planned++
		if o.err != nil {
			res.Failed++
			r.metrics.File("failed")
			r.logger.Error("file failed",
				zap.String("atom", string(o.job.Atom)),
				zap.String("file", o.job.Filename),
				zap.Error(o.err))
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", o.job.Filename, o.err))
			continue
		}

		if o.rec.URI == "" {
			res.Cached++
			r.metrics.File("cached")
		} else {
			res.Fetched++
			r.metrics.File("fetched")
		}
		// Same stem from another version: last write wins.
		res.Records[o.rec.Stem] = o.rec
	}

	res.Err = errs.ErrorOrNil()
	return res
}

// process runs one file end to end. Any panic is turned into an error so a
// bad file cannot take down the pool.
func (r *Runner) process(ctx context.Context, job Job) (rec *patch.Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			rec = nil
			err = fmt.Errorf("panic processing %s: %v", job.Filename, p)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err = patch.NewRecord(r.workDir, job.Filename)
	if err != nil {
		return nil, err
	}

	// Distinct files never share paths, but the same stem may be queued
	// from several versions or codecs.
	unlock := r.lock(rec.Stem)
	defer unlock()

	uri, err := r.retriever.Retrieve(ctx, job.URIs, rec.OriginalArtifact().Path)
	if err != nil {
		return nil, err
	}
	rec.URI = uri

	if err := r.engine.Run(ctx, rec); err != nil {
		return nil, err
	}
	if !rec.Complete(r.engine.Exts()) {
		return nil, fmt.Errorf("%s: incomplete after transform", rec.Stem)
	}
	return rec, nil
}

func (r *Runner) lock(stem string) func() {
	v, _ := r.locks.LoadOrStore(stem, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
