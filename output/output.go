// Package output stores finished conversions. A Sink writes one
// serialized document at a time; the Consumer drains the runner's
// outputs channel into a Sink, marking each document in the state
// tracker after a successful store.
package output

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dhcgn/oft-to-eml/model"
	"github.com/dhcgn/oft-to-eml/runner"
	"github.com/dhcgn/oft-to-eml/state"
	"github.com/dhcgn/oft-to-eml/stats"
)

// Sink stores serialized documents. Implementations are driven by a
// single goroutine; Store is never called concurrently.
type Sink interface {
	Store(ctx context.Context, conv model.Converted) error
	Close() error
}

// stateFlushEvery bounds how many stored documents an interrupted run
// can lose from the state file.
const stateFlushEvery = 100

// Consumer is the sink stage of the pipeline.
type Consumer struct {
	sink    Sink
	runner  *runner.Runner
	tracker state.Tracker
	logger  *slog.Logger
}

func NewConsumer(r *runner.Runner, sink Sink) (*Consumer, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is nil")
	}

	tracker := r.Tracker()
	if tracker == nil {
		return nil, fmt.Errorf("state tracker not configured")
	}

	consumer := &Consumer{
		sink:    sink,
		runner:  r,
		tracker: tracker,
		logger:  r.Logger(),
	}

	r.AddStage("sink", consumer.run)
	return consumer, nil
}

func (c *Consumer) run(ctx context.Context) error {
	if err := c.consume(ctx); err != nil {
		c.sink.Close()
		return err
	}
	if err := c.sink.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}

func (c *Consumer) consume(ctx context.Context) error {
	dryRun := c.runner.Config().DryRun
	stored := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case conv, ok := <-c.runner.Outputs():
			if !ok {
				return nil
			}

			if conv.Hash == "" {
				return fmt.Errorf("converted document %s missing content hash", conv.Name)
			}

			if dryRun {
				if err := c.tracker.MarkProcessed(conv.Hash, conv.Name); err != nil {
					return fmt.Errorf("mark processed: %w", err)
				}
				c.logger.Info("dry-run: skipping store", "source", conv.Source, "name", conv.Name, "size", conv.Size)
				c.runner.EmitEvent(stats.Event{Stage: stats.StageSink, Type: stats.EventTypeDryRunStore, Source: conv.Source, Detail: conv.Name})
				continue
			}

			if err := c.sink.Store(ctx, conv); err != nil {
				c.runner.EmitEvent(stats.Event{Stage: stats.StageSink, Type: stats.EventTypeError, Source: conv.Source, Err: err})
				return fmt.Errorf("store %s: %w", conv.Name, err)
			}

			if err := c.tracker.MarkProcessed(conv.Hash, conv.Name); err != nil {
				return fmt.Errorf("mark processed: %w", err)
			}
			stored++
			if stored%stateFlushEvery == 0 {
				if err := c.tracker.Flush(); err != nil {
					return fmt.Errorf("flush state: %w", err)
				}
			}

			c.logger.Debug("stored", "source", conv.Source, "name", conv.Name, "size", conv.Size)
			c.runner.EmitEvent(stats.Event{Stage: stats.StageSink, Type: stats.EventTypeStored, Source: conv.Source, Detail: conv.Name})
		}
	}
}
