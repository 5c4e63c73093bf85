package centralizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kristianrpo/connectivity-microservice/internal/metrics"
	"github.com/kristianrpo/connectivity-microservice/pkg/config"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	"github.com/kristianrpo/connectivity-microservice/pkg/utils"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	opValidateCitizen      = "validate_citizen"
	opRegisterCitizen      = "register_citizen"
	opAuthenticateDocument = "authenticate_document"

	maxBodyBytes = 1 << 20
)

type Config struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	Retry           RetryConfig
	OperatorName    string
	DefaultAddress  string
	// BreakerCooldown is how long the breaker stays open before probing again.
	BreakerCooldown time.Duration
}

type RegisterCitizenRequest struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	Email        string `json:"email"`
	OperatorName string `json:"operatorName"`
}

type AuthenticateDocumentRequest struct {
	IDCitizen     int64  `json:"idCitizen"`
	URLDocument   string `json:"UrlDocument"`
	DocumentTitle string `json:"documentTitle"`
}

type Client struct {
	baseURL        string
	apiKey         string
	operatorName   string
	defaultAddress string
	retry          RetryConfig
	http           *http.Client
	cb             *gobreaker.CircuitBreaker
	logger         *zap.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

func NewClient(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}

	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "Centralizer",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// application failures are answers, only transport errors trip the breaker
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		operatorName:   cfg.OperatorName,
		defaultAddress: cfg.DefaultAddress,
		retry:          retry,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cb:      gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("centralizer/client"),
	}
}

// Ready fails with ErrUnavailable while the circuit breaker is open.
func (c *Client) Ready() error {
	if utils.BreakerOpen(c.cb) {
		return &TransportError{Op: "ready", Err: ErrUnavailable}
	}
	return nil
}

// ValidateCitizen asks whether the citizen is already registered with any operator.
func (c *Client) ValidateCitizen(ctx context.Context, id int64) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "Centralizer.ValidateCitizen")
	defer span.End()

	span.SetAttributes(attribute.Int64("citizen_id", id))

	resp, err := c.do(ctx, opValidateCitizen, http.MethodGet, "/apis/validateCitizen/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	switch resp.status {
	case http.StatusOK:
		return &Result{
			Outcome:    OutcomeExists,
			StatusCode: resp.status,
			Message:    "Citizen found successfully",
			Payload:    resp.payload,
		}, nil
	case http.StatusNoContent:
		return &Result{
			Outcome:    OutcomeNotExists,
			StatusCode: resp.status,
			Message:    "Citizen does not exist in the system",
		}, nil
	default:
		return &Result{
			Outcome:    OutcomeFailure,
			StatusCode: resp.status,
			Message:    fmt.Sprintf("Unexpected response from external API: %d", resp.status),
			Payload:    resp.payload,
		}, nil
	}
}

func (c *Client) RegisterCitizen(ctx context.Context, req RegisterCitizenRequest) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "Centralizer.RegisterCitizen")
	defer span.End()

	span.SetAttributes(attribute.Int64("citizen_id", req.ID))

	if req.Address == "" {
		req.Address = c.defaultAddress
	}
	if req.OperatorName == "" {
		req.OperatorName = c.operatorName
	}

	resp, err := c.do(ctx, opRegisterCitizen, http.MethodPost, "/apis/registerCitizen", req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if resp.status == http.StatusCreated {
		return &Result{
			Outcome:    OutcomeSuccess,
			StatusCode: resp.status,
			Message:    "Citizen registered successfully",
			Payload:    resp.payload,
		}, nil
	}

	return &Result{
		Outcome:    OutcomeFailure,
		StatusCode: resp.status,
		Message:    fmt.Sprintf("Registration failed: %d", resp.status),
		Payload:    resp.payload,
	}, nil
}

func (c *Client) AuthenticateDocument(ctx context.Context, req AuthenticateDocumentRequest) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "Centralizer.AuthenticateDocument")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("citizen_id", req.IDCitizen),
		attribute.String("document_title", req.DocumentTitle),
	)

	resp, err := c.do(ctx, opAuthenticateDocument, http.MethodPut, "/apis/authenticateDocument", req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if resp.status == http.StatusOK {
		return &Result{
			Outcome:    OutcomeSuccess,
			StatusCode: resp.status,
			Message:    "Document authenticated successfully",
			Payload:    resp.payload,
		}, nil
	}

	return &Result{
		Outcome:    OutcomeFailure,
		StatusCode: resp.status,
		Message:    fmt.Sprintf("Document authentication failed: %d", resp.status),
		Payload:    resp.payload,
	}, nil
}

type response struct {
	status  int
	payload json.RawMessage
}

// do runs one logical exchange: retried attempts inside a single breaker call.
func (c *Client) do(ctx context.Context, op, method, path string, body any) (*response, error) {
	start := time.Now()

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	url := c.baseURL + path

	resp, err := utils.ExecuteWithBreaker(c.cb, func() (*response, error) {
		return c.exchange(ctx, op, method, url, encoded)
	})
	if err != nil {
		c.metrics.ObserveCentralizer(op, "transport_error", time.Since(start))

		var te *TransportError
		switch {
		case errors.Is(err, utils.ErrBreakerRejected):
			te = &TransportError{Op: op, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
		case !errors.As(err, &te):
			te = &TransportError{Op: op, Err: err}
		}

		mylogger.Error(ctx, c.logger, "Centralizer request failed",
			zap.String("operation", op),
			zap.String("url", url),
			zap.Error(te),
		)
		return nil, te
	}

	c.metrics.ObserveCentralizer(op, strconv.Itoa(resp.status), time.Since(start))

	mylogger.Info(ctx, c.logger, "Centralizer responded",
		zap.String("operation", op),
		zap.Int("status", resp.status),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

func (c *Client) exchange(ctx context.Context, op, method, url string, body []byte) (*response, error) {
	var (
		last    *response
		attempt int
	)

	operation := func() error {
		attempt++

		resp, err := c.send(ctx, method, url, body)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			mylogger.Warn(ctx, c.logger, "Centralizer attempt failed",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}

		last = resp
		if isRetryableStatus(resp.status) {
			mylogger.Warn(ctx, c.logger, "Centralizer returned retryable status",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Int("status", resp.status),
			)
			return &retryableStatusError{status: resp.status}
		}

		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.retry.backOff(), ctx)); err != nil {
		te := &TransportError{Op: op, Err: err}

		var rse *retryableStatusError
		if errors.As(err, &rse) {
			te.StatusCode = rse.status
		}
		return nil, te
	}

	return last, nil
}

func (c *Client) send(ctx context.Context, method, url string, body []byte) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &response{
		status:  resp.StatusCode,
		payload: normalizePayload(raw),
	}, nil
}

// ConfigFrom maps the loaded service configuration onto the client settings.
func ConfigFrom(cfg config.Centralizer) Config {
	return Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
		Retry: RetryConfig{
			MaxAttempts:     cfg.MaxAttempts,
			InitialInterval: cfg.Backoff,
			Multiplier:      2,
		},
		OperatorName:    cfg.OperatorName,
		DefaultAddress:  cfg.Address,
		BreakerCooldown: cfg.BreakerCooldown,
	}
}
