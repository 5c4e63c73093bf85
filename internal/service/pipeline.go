package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kristianrpo/connectivity-microservice/internal/centralizer"
	"github.com/kristianrpo/connectivity-microservice/internal/domain"
	"github.com/kristianrpo/connectivity-microservice/internal/repository"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Outcome describes what a pipeline did with one event.
type Outcome struct {
	// Duplicate is set when the message id already had a trace and nothing was called.
	Duplicate bool
	Trace     *domain.Trace
}

type ResultPublisher interface {
	Publish(ctx context.Context, t *domain.Trace, routingKey string) error
}

type PipelineConfig struct {
	ResultRoutingKey string
	// RepublishUnpublished makes a duplicate delivery retry the result event of a
	// terminal trace that was never stamped as published.
	RepublishUnpublished bool
}

type externalCall func(ctx context.Context) (*centralizer.Result, error)

// readiness reports whether the centralizer would accept a call right now.
type readiness interface {
	Ready() error
}

// pipeline is the state machine shared by every event flow:
// dedup check, pending trace, external call, terminal trace, result event.
type pipeline struct {
	name      string
	repo      repository.TraceRepository
	gateway   readiness
	publisher ResultPublisher
	cfg       PipelineConfig
	logger    *zap.Logger
}

func (p *pipeline) run(ctx context.Context, pending *domain.Trace, call externalCall) (Outcome, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("pipeline", p.name),
		attribute.String("message_id", pending.MessageID),
	)

	existing, err := p.repo.GetByMessageID(ctx, pending.MessageID)
	if err == nil {
		return p.duplicate(ctx, existing)
	}
	if !errors.Is(err, repository.ErrTraceNotFound) {
		span.RecordError(err)
		return Outcome{}, fmt.Errorf("dedup check: %w", err)
	}

	// no trace is claimed while the breaker refuses calls, so redelivery starts over
	if err := p.gateway.Ready(); err != nil {
		span.RecordError(err)

		mylogger.Warn(
			ctx,
			p.logger,
			"Centralizer unavailable, leaving event for redelivery",
			zap.String("pipeline", p.name),
			zap.Error(err),
		)

		return Outcome{}, err
	}

	created, err := p.repo.CreatePending(ctx, pending)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateTrace) {
			// a concurrent delivery won the insert
			existing, getErr := p.repo.GetByMessageID(ctx, pending.MessageID)
			if getErr != nil {
				return Outcome{}, fmt.Errorf("dedup check after conflict: %w", getErr)
			}
			return p.duplicate(ctx, existing)
		}

		span.RecordError(err)
		return Outcome{}, fmt.Errorf("create pending trace: %w", err)
	}

	mylogger.Info(
		ctx,
		p.logger,
		"Pending trace created, calling centralizer",
		zap.String("pipeline", p.name),
		zap.Int64("subject_id", created.SubjectID),
	)

	result, callErr := call(ctx)
	if centralizer.IsUnavailable(callErr) {
		return Outcome{}, p.release(ctx, pending.MessageID, callErr)
	}

	completion := completionFor(result, callErr)

	done, err := p.repo.MarkTerminal(ctx, pending.MessageID, completion)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			p.logger,
			"Failed to record terminal trace",
			zap.String("pipeline", p.name),
			zap.String("status", string(completion.Status)),
			zap.Error(err),
		)

		return Outcome{}, fmt.Errorf("mark trace %s: %w", completion.Status, err)
	}

	span.SetAttributes(attribute.String("trace_status", string(done.Status)))

	pubErr := p.publisher.Publish(ctx, done, p.cfg.ResultRoutingKey)

	if callErr != nil {
		span.RecordError(callErr)

		mylogger.Error(
			ctx,
			p.logger,
			"Centralizer call failed",
			zap.String("pipeline", p.name),
			zap.Error(callErr),
		)

		return Outcome{Trace: done}, callErr
	}

	mylogger.Info(
		ctx,
		p.logger,
		"Event processed",
		zap.String("pipeline", p.name),
		zap.String("status", string(done.Status)),
	)

	if pubErr != nil {
		return Outcome{Trace: done}, pubErr
	}

	return Outcome{Trace: done}, nil
}

// release undoes the pending claim of a call the breaker refused before sending anything.
func (p *pipeline) release(ctx context.Context, messageID string, callErr error) error {
	span := trace.SpanFromContext(ctx)
	span.RecordError(callErr)

	if err := p.repo.ReleasePending(ctx, messageID); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			p.logger,
			"Failed to release pending trace",
			zap.String("pipeline", p.name),
			zap.Error(err),
		)

		return errors.Join(callErr, fmt.Errorf("release pending trace: %w", err))
	}

	mylogger.Warn(
		ctx,
		p.logger,
		"Centralizer refused the call, pending trace released",
		zap.String("pipeline", p.name),
		zap.Error(callErr),
	)

	return callErr
}

func (p *pipeline) duplicate(ctx context.Context, existing *domain.Trace) (Outcome, error) {
	outcome := Outcome{Duplicate: true, Trace: existing}

	if !existing.IsTerminal() {
		mylogger.Warn(
			ctx,
			p.logger,
			"Duplicate delivery for a trace still pending",
			zap.String("pipeline", p.name),
			zap.Time("received_at", existing.ReceivedAt),
		)
		return outcome, nil
	}

	mylogger.Info(
		ctx,
		p.logger,
		"Event already processed, skipping",
		zap.String("pipeline", p.name),
		zap.String("status", string(existing.Status)),
	)

	if p.cfg.RepublishUnpublished && !existing.IsPublished() {
		if err := p.publisher.Publish(ctx, existing, p.cfg.ResultRoutingKey); err != nil {
			return outcome, err
		}
	}

	return outcome, nil
}

func completionFor(result *centralizer.Result, err error) domain.Completion {
	if err != nil {
		c := domain.Completion{
			Status:       domain.TraceStatusError,
			ErrorMessage: err.Error(),
		}

		var te *centralizer.TransportError
		if errors.As(err, &te) && te.StatusCode != 0 {
			c.StatusCode = domain.IntPtr(te.StatusCode)
		}
		return c
	}

	c := domain.Completion{
		StatusCode: domain.IntPtr(result.StatusCode),
		Response:   result.Payload,
	}

	if result.IsSuccess() {
		c.Status = domain.TraceStatusSent
		c.ResultMessage = result.Message
	} else {
		c.Status = domain.TraceStatusFailed
		c.ErrorMessage = result.Message
	}

	return c
}
