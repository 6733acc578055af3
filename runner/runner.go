package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/ost-export/builder"
	"github.com/dhcgn/ost-export/config"
	"github.com/dhcgn/ost-export/export"
	"github.com/dhcgn/ost-export/filter"
	"github.com/dhcgn/ost-export/model"
	"github.com/dhcgn/ost-export/source"
	"github.com/dhcgn/ost-export/stats"
	"github.com/dhcgn/ost-export/walker"
)

type StageFunc func(context.Context) error

type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	jobs      chan model.Job
	envelopes chan model.Envelope

	subsMu sync.RWMutex
	subs   []chan stats.Event

	workWG  sync.WaitGroup
	buildWG sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeJobsOnce      sync.Once
	closeEnvelopesOnce sync.Once
	closeEventsOnce    sync.Once
	since              time.Time
}

func New(parent context.Context, cfg config.Config, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(chan model.Job, 32),
		envelopes: make(chan model.Envelope, 32),
	}
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

// EmitEvent delivers evt to every stats subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	for _, ch := range r.subs {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats registers fn as a consumer of every event. Subscribe before
// adding stages.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// AddWalker registers the stage that enumerates roots into jobs.
func (r *Runner) AddWalker(roots []source.Folder) {
	w := walker.New(walker.Options{
		Logger: r.logger,
		OnFolderError: func(folderPath string, err error) {
			r.EmitEvent(stats.Event{Stage: stats.StageWalk, Type: stats.EventTypeError, Folder: folderPath, Err: err})
		},
	})
	r.AddStage("walk", func(ctx context.Context) error {
		defer r.closeJobs()
		err := w.Walk(ctx, roots, func(ctx context.Context, job model.Job) error {
			r.EmitEvent(stats.Event{Stage: stats.StageWalk, Type: stats.EventTypeScanned, Folder: job.FolderPath})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.jobs <- job:
				return nil
			}
		})
		if err == nil {
			r.logger.Info("folder walk completed")
		}
		return err
	})
}

// AddBuilders registers cfg.Workers build stages. Documents rejected by f are
// dropped before the write stage.
func (r *Runner) AddBuilders(b *builder.Builder, f *filter.Filter) {
	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	r.buildWG.Add(workers)
	for i := 0; i < workers; i++ {
		r.AddStage(fmt.Sprintf("build-%d", i), func(ctx context.Context) error {
			defer r.buildWG.Done()
			return r.build(ctx, b, f)
		})
	}
	r.AddStage("build-drain", func(ctx context.Context) error {
		r.buildWG.Wait()
		r.closeEnvelopes()
		return nil
	})
}

func (r *Runner) build(ctx context.Context, b *builder.Builder, f *filter.Filter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-r.jobs:
			if !ok {
				return nil
			}

			doc, err := b.TryBuild(job.Record)
			env := model.Envelope{Job: job, Document: doc, Fallback: err != nil, RecordID: recordID(job)}
			if env.Fallback {
				r.EmitEvent(stats.Event{Stage: stats.StageBuild, Type: stats.EventTypeFallback, Folder: job.FolderPath, MessageID: doc.MessageID(), Err: err})
			} else {
				r.EmitEvent(stats.Event{Stage: stats.StageBuild, Type: stats.EventTypeBuilt, Folder: job.FolderPath, MessageID: doc.MessageID()})
			}

			if !f.Allows(job.FolderPath, doc.Subject()) {
				r.EmitEvent(stats.Event{Stage: stats.StageBuild, Type: stats.EventTypeFiltered, Folder: job.FolderPath, MessageID: doc.MessageID()})
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.envelopes <- env:
			}
		}
	}
}

// AddWriter registers the single stage that owns every output file.
func (r *Runner) AddWriter(sink *export.Sink) {
	r.AddStage("write", func(ctx context.Context) error {
		defer func() {
			if err := sink.Close(); err != nil {
				r.logger.Error("closing outputs failed", "err", err)
				r.EmitEvent(stats.Event{Stage: stats.StageWrite, Type: stats.EventTypeError, Err: err})
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case env, ok := <-r.envelopes:
				if !ok {
					return nil
				}
				messageID := env.Document.MessageID()
				if _, err := sink.Write(env); err != nil {
					r.EmitEvent(stats.Event{Stage: stats.StageWrite, Type: stats.EventTypeSkipped, Folder: env.Job.FolderPath, MessageID: messageID, Err: err})
					continue
				}
				r.EmitEvent(stats.Event{Stage: stats.StageWrite, Type: stats.EventTypeWritten, Folder: env.Job.FolderPath, MessageID: messageID})
			}
		}
	})
}

func (r *Runner) Start() error {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	parentErr := r.ctx.Err()
	r.cancel()

	err := r.err
	if err == nil && parentErr != nil {
		err = parentErr
	}
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) closeJobs() {
	r.closeJobsOnce.Do(func() {
		close(r.jobs)
	})
}

func (r *Runner) closeEnvelopes() {
	r.closeEnvelopesOnce.Do(func() {
		close(r.envelopes)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subsMu.Lock()
		for _, ch := range r.subs {
			close(ch)
		}
		r.subsMu.Unlock()
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}

// recordID returns the record's identifier, or folder and position when the
// record has none.
func recordID(job model.Job) (id string) {
	defer func() {
		if recover() != nil {
			id = ""
		}
		if id == "" {
			id = fmt.Sprintf("%s_%d", job.OutputName, job.Index)
		}
	}()
	id, _ = job.Record.Identifier()
	return id
}
