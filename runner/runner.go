package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/oft-to-eml/config"
	"github.com/dhcgn/oft-to-eml/eml"
	"github.com/dhcgn/oft-to-eml/filter"
	"github.com/dhcgn/oft-to-eml/model"
	"github.com/dhcgn/oft-to-eml/state"
	"github.com/dhcgn/oft-to-eml/stats"
)

var ErrHashMissing = errors.New("scanned template missing content hash")

type StageFunc func(context.Context) error

// Runner wires the conversion pipeline: a producer scans templates into
// the records channel, the bridge deduplicates and filters, the convert
// stage assembles documents in parallel, and a sink consumes the
// outputs channel. Errors on individual templates become events; only
// infrastructure failures stop the pipeline.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger
	filter *filter.Filter

	ctx    context.Context
	cancel context.CancelFunc

	records  chan model.Envelope
	converts chan model.Envelope
	outputs  chan model.Converted
	events   chan stats.Event

	tracker state.Tracker

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeRecordsOnce  sync.Once
	closeConvertsOnce sync.Once
	closeOutputsOnce  sync.Once
	closeEventsOnce   sync.Once
	since             time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	ctx, cancel := context.WithCancel(context.Background())

	tracker, err := newTracker(cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("state tracker: %w", err)
	}

	recordFilter, err := filter.New(filter.Options{Include: cfg.Include, Exclude: cfg.Exclude})
	if err != nil {
		cancel()
		tracker.Close()
		return nil, fmt.Errorf("record filter: %w", err)
	}

	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		filter:   recordFilter,
		ctx:      ctx,
		cancel:   cancel,
		records:  make(chan model.Envelope, 32),
		converts: make(chan model.Envelope, 32),
		outputs:  make(chan model.Converted, 32),
		events:   make(chan stats.Event, 128),
		tracker:  tracker,
	}

	r.AddStage("bridge", r.bridge)
	r.AddStage("convert", r.convert)
	return r, nil
}

func newTracker(cfg config.Config) (state.Tracker, error) {
	if cfg.StateDB != "" {
		return state.NewSQLiteTracker(cfg.StateDB, !cfg.DryRun)
	}
	return state.NewFileTracker(cfg.StateDir, !cfg.DryRun)
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

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) RecordsWriter() chan<- model.Envelope {
	return r.records
}

func (r *Runner) CloseRecords() {
	r.closeRecordsOnce.Do(func() {
		close(r.records)
	})
}

func (r *Runner) Outputs() <-chan model.Converted {
	return r.outputs
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// Interrupt aborts the pipeline with cause. The first failure wins;
// stages observe the cancellation through their context. Start reports
// the cause, so an interrupted run never looks like a clean one.
func (r *Runner) Interrupt(cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	r.fail(cause)
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, r.events); err != nil && !errors.Is(err, context.Canceled) {
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

func (r *Runner) Start() error {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()
	if cerr := r.tracker.Close(); cerr != nil {
		if err == nil {
			err = fmt.Errorf("state tracker: %w", cerr)
		} else {
			r.logger.Error("state tracker close failed", "err", cerr)
		}
	}

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeConverts()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.records:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageScan, Type: stats.EventTypeError, Source: envelope.Path, Err: envelope.Err})
				continue
			}

			r.EmitEvent(stats.Event{Stage: stats.StageScan, Type: stats.EventTypeScanned, Source: envelope.Path})

			if envelope.Hash == "" {
				r.EmitEvent(stats.Event{Stage: stats.StageBridge, Type: stats.EventTypeError, Source: envelope.Path, Err: ErrHashMissing})
				continue
			}

			if r.tracker.AlreadyProcessed(envelope.Hash) {
				r.EmitEvent(stats.Event{Stage: stats.StageBridge, Type: stats.EventTypeDuplicate, Source: envelope.Path})
				continue
			}

			if !r.filter.Allows(envelope.Record) {
				r.EmitEvent(stats.Event{Stage: stats.StageBridge, Type: stats.EventTypeFiltered, Source: envelope.Path})
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.converts <- envelope:
				r.EmitEvent(stats.Event{Stage: stats.StageBridge, Type: stats.EventTypeEnqueued, Source: envelope.Path})
			}
		}
	}
}

func (r *Runner) convert(ctx context.Context) error {
	defer r.closeOutputs()

	group, groupCtx := errgroup.WithContext(ctx)
	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	group.SetLimit(workers)

	for {
		select {
		case <-ctx.Done():
			group.Wait()
			return ctx.Err()
		case envelope, ok := <-r.converts:
			if !ok {
				return group.Wait()
			}
			group.Go(func() error {
				return r.convertOne(groupCtx, envelope)
			})
		}
	}
}

func (r *Runner) convertOne(ctx context.Context, envelope model.Envelope) error {
	doc, err := eml.Assemble(envelope.Record)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeError, Source: envelope.Path, Err: fmt.Errorf("assemble %s: %w", envelope.Path, err)})
		return nil
	}

	raw, err := doc.Bytes()
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeError, Source: envelope.Path, Err: fmt.Errorf("serialize %s: %w", envelope.Path, err)})
		return nil
	}

	converted := model.Converted{
		Source: envelope.Path,
		Name:   eml.OutputName(envelope.Path),
		Hash:   envelope.Hash,
		Size:   int64(len(raw)),
		Date:   envelope.Record.Date,
		Raw:    raw,
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r.outputs <- converted:
		r.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeConverted, Source: envelope.Path, Detail: converted.Name})
	}
	return nil
}

func (r *Runner) closeConverts() {
	r.closeConvertsOnce.Do(func() {
		close(r.converts)
	})
}

func (r *Runner) closeOutputs() {
	r.closeOutputsOnce.Do(func() {
		close(r.outputs)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
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
