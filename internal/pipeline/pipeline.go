// Package pipeline composes intent resolution, command persistence, and
// response generation into the end-to-end command flow: text in, completed
// command record out.
//
// The pipeline is deliberately forgiving about model quality: degraded
// intents and fallback explanations still produce a completed command. Only
// the store can halt a submission, and a failed create writes nothing.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/valet-labs/valet/internal/capture"
	"github.com/valet-labs/valet/internal/command"
	"github.com/valet-labs/valet/internal/intent"
	"github.com/valet-labs/valet/internal/observe"
)

// Resolver turns raw text into a structured intent. Implemented by
// [intent.Resolver].
type Resolver interface {
	Resolve(ctx context.Context, text string) intent.CommandIntent
}

// Generator produces the user-facing explanation for an intent. Implemented
// by [respond.Generator].
type Generator interface {
	Generate(ctx context.Context, in intent.CommandIntent) string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics sets the metrics instance used for pipeline instrumentation.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs the command pipeline. Safe for concurrent use; commands
// for different users (and even the same user) are processed independently.
type Orchestrator struct {
	resolver  Resolver
	generator Generator
	store     command.Store
	metrics   *observe.Metrics
}

// New creates an Orchestrator over the given stages.
func New(resolver Resolver, generator Generator, store command.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver:  resolver,
		generator: generator,
		store:     store,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// SubmitText runs one utterance through the full pipeline: resolve the
// intent, create a pending command record, generate the explanation, and
// complete the record with the response attached.
//
// Resolution and generation cannot fail the submission: both degrade to
// fallback values. A store error is returned as-is and leaves no partial
// record behind. An empty userID yields (nil, nil) per the store contract.
func (o *Orchestrator) SubmitText(ctx context.Context, userID, text string) (*command.Command, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.SubmitText")
	defer span.End()
	start := time.Now()
	log := observe.Logger(ctx)

	resolveStart := time.Now()
	in := o.resolver.Resolve(ctx, text)
	o.metrics.ResolveDuration.Record(ctx, time.Since(resolveStart).Seconds())
	log.Debug("intent resolved",
		"type", in.Type, "action", in.Action, "user_id", userID)

	cmd, err := o.store.Create(ctx, userID, in, "")
	if err != nil {
		return nil, fmt.Errorf("pipeline: create command: %w", err)
	}
	if cmd == nil {
		log.Warn("command not recorded, no user", "type", in.Type)
		return nil, nil
	}
	o.metrics.RecordCommandCreated(ctx, in.Type)

	explainStart := time.Now()
	response := o.generator.Generate(ctx, in)
	o.metrics.ExplainDuration.Record(ctx, time.Since(explainStart).Seconds())

	if err := o.store.SetStatus(ctx, cmd.ID, command.StatusCompleted, response); err != nil {
		return nil, fmt.Errorf("pipeline: complete command %s: %w", cmd.ID, err)
	}

	cmd.Status = command.StatusCompleted
	cmd.Result = response
	if cmd.Response == "" {
		cmd.Response = response
	}
	o.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("intent_type", in.Type)))
	log.Info("command completed",
		"command_id", cmd.ID, "type", in.Type, "duration", time.Since(start))
	return cmd, nil
}

// Attach wires a capture controller's utterance callback into the pipeline:
// every finalized transcript is submitted on behalf of userID. Submissions
// run under ctx, so cancelling the connection's context also cancels any
// in-flight submission. The returned config must be passed to
// capture.NewController by the caller; resolution never starts before the
// transcript is final because the controller only fires OnUtterance for
// final results.
func (o *Orchestrator) Attach(ctx context.Context, cfg capture.Config, userID string) capture.Config {
	prev := cfg.OnUtterance
	cfg.OnUtterance = func(u capture.Utterance) {
		if prev != nil {
			prev(u)
		}
		if _, err := o.SubmitText(ctx, userID, u.Text); err != nil {
			observe.Logger(ctx).Error("submit captured utterance",
				"user_id", userID, "err", err)
		}
	}
	return cfg
}
