package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kristianrpo/connectivity-microservice/internal/domain"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

type TraceRepository interface {
	GetByMessageID(ctx context.Context, messageID string) (*domain.Trace, error)
	CreatePending(ctx context.Context, t *domain.Trace) (*domain.Trace, error)
	MarkTerminal(ctx context.Context, messageID string, c domain.Completion) (*domain.Trace, error)
	MarkPublished(ctx context.Context, messageID string) error
	ReleasePending(ctx context.Context, messageID string) error
	ListUnpublished(ctx context.Context, completedBefore time.Time, limit int) ([]*domain.Trace, error)
}

type traceRepository struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewTraceRepository(pool *pgxpool.Pool, logger *zap.Logger) TraceRepository {
	return &traceRepository{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/trace_repo"),
	}
}

const traceColumns = `
	id, message_id, event_type, subject_id, document_id, document_title, status,
	external_status_code, external_response, result_message, error_message,
	received_at, completed_at, published_at
`

func (r *traceRepository) GetByMessageID(ctx context.Context, messageID string) (*domain.Trace, error) {
	ctx, span := r.tracer.Start(ctx, "TraceRepository.GetByMessageID")
	defer span.End()

	span.SetAttributes(attribute.String("message_id", messageID))

	query := `SELECT ` + traceColumns + ` FROM traces WHERE message_id = $1;`

	result, err := scanTrace(r.pool.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTraceNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to get trace by message id",
			zap.Error(err),
		)

		return nil, fmt.Errorf("error getting trace: %w", err)
	}

	return result, nil
}

func (r *traceRepository) CreatePending(ctx context.Context, t *domain.Trace) (*domain.Trace, error) {
	ctx, span := r.tracer.Start(ctx, "TraceRepository.CreatePending")
	defer span.End()

	span.SetAttributes(
		attribute.String("message_id", t.MessageID),
		attribute.String("event_type", string(t.EventType)),
		attribute.Int64("subject_id", t.SubjectID),
	)

	query := `
		INSERT INTO traces (message_id, event_type, subject_id, document_id, document_title, status)
		VALUES ($1, $2, $3, $4, $5, 'PENDING')
		RETURNING ` + traceColumns + `;`

	result, err := scanTrace(r.pool.QueryRow(
		ctx,
		query,
		t.MessageID,
		t.EventType,
		t.SubjectID,
		nullString(t.DocumentID),
		nullString(t.DocumentTitle),
	))
	if err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == uniqueViolation {
			mylogger.Info(
				ctx,
				r.logger,
				"Trace already exists, skipping",
				zap.Error(err),
			)

			return nil, ErrDuplicateTrace
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to create pending trace",
			zap.Error(err),
		)

		return nil, fmt.Errorf("error creating trace: %w", err)
	}

	return result, nil
}

func (r *traceRepository) MarkTerminal(ctx context.Context, messageID string, c domain.Completion) (*domain.Trace, error) {
	ctx, span := r.tracer.Start(ctx, "TraceRepository.MarkTerminal")
	defer span.End()

	span.SetAttributes(
		attribute.String("message_id", messageID),
		attribute.String("status", string(c.Status)),
	)

	if !c.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCompletion, c.Status)
	}

	var response []byte
	if len(c.Response) > 0 {
		response = c.Response
	}

	query := `
		UPDATE traces
		SET status = $2,
			external_status_code = $3,
			external_response = $4,
			result_message = $5,
			error_message = $6,
			completed_at = NOW()
		WHERE message_id = $1 AND status = 'PENDING'
		RETURNING ` + traceColumns + `;`

	result, err := scanTrace(r.pool.QueryRow(
		ctx,
		query,
		messageID,
		c.Status,
		c.StatusCode,
		response,
		nullString(c.ResultMessage),
		nullString(c.ErrorMessage),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByMessageID(ctx, messageID); getErr != nil {
				return nil, getErr
			}

			return nil, ErrTraceAlreadyTerminal
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to mark trace terminal",
			zap.String("status", string(c.Status)),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error completing trace: %w", err)
	}

	return result, nil
}

func (r *traceRepository) MarkPublished(ctx context.Context, messageID string) error {
	ctx, span := r.tracer.Start(ctx, "TraceRepository.MarkPublished")
	defer span.End()

	span.SetAttributes(attribute.String("message_id", messageID))

	query := `
		UPDATE traces
		SET published_at = NOW()
		WHERE message_id = $1 AND published_at IS NULL;
	`

	tag, err := r.pool.Exec(ctx, query, messageID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to mark trace published",
			zap.Error(err),
		)

		return fmt.Errorf("error marking trace published: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := r.GetByMessageID(ctx, messageID); err != nil {
			return err
		}
	}

	return nil
}

// ReleasePending drops a trace that never left PENDING so the message id can be processed again.
func (r *traceRepository) ReleasePending(ctx context.Context, messageID string) error {
	ctx, span := r.tracer.Start(ctx, "TraceRepository.ReleasePending")
	defer span.End()

	span.SetAttributes(attribute.String("message_id", messageID))

	query := `DELETE FROM traces WHERE message_id = $1 AND status = 'PENDING';`

	tag, err := r.pool.Exec(ctx, query, messageID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to release pending trace",
			zap.Error(err),
		)

		return fmt.Errorf("error releasing pending trace: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := r.GetByMessageID(ctx, messageID); err != nil {
			return err
		}
		return ErrTraceAlreadyTerminal
	}

	return nil
}

// ListUnpublished returns terminal traces whose result event never went out, oldest first.
func (r *traceRepository) ListUnpublished(ctx context.Context, completedBefore time.Time, limit int) ([]*domain.Trace, error) {
	ctx, span := r.tracer.Start(ctx, "TraceRepository.ListUnpublished")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	query := `
		SELECT ` + traceColumns + `
		FROM traces
		WHERE status <> 'PENDING'
			AND published_at IS NULL
			AND completed_at < $1
		ORDER BY completed_at
		LIMIT $2;
	`

	rows, err := r.pool.Query(ctx, query, completedBefore, limit)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to list unpublished traces",
			zap.Error(err),
		)

		return nil, fmt.Errorf("error listing unpublished traces: %w", err)
	}
	defer rows.Close()

	var traces []*domain.Trace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning trace: %w", err)
		}
		traces = append(traces, t)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating traces: %w", err)
	}

	return traces, nil
}

func scanTrace(row pgx.Row) (*domain.Trace, error) {
	var (
		t             domain.Trace
		documentID    *string
		documentTitle *string
		resultMessage *string
		errorMessage  *string
		response      []byte
	)

	if err := row.Scan(
		&t.ID,
		&t.MessageID,
		&t.EventType,
		&t.SubjectID,
		&documentID,
		&documentTitle,
		&t.Status,
		&t.ExternalStatusCode,
		&response,
		&resultMessage,
		&errorMessage,
		&t.ReceivedAt,
		&t.CompletedAt,
		&t.PublishedAt,
	); err != nil {
		return nil, err
	}

	t.DocumentID = deref(documentID)
	t.DocumentTitle = deref(documentTitle)
	t.ResultMessage = deref(resultMessage)
	t.ErrorMessage = deref(errorMessage)
	if len(response) > 0 {
		t.ExternalResponse = response
	}

	return &t, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
