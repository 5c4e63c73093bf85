package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kristianrpo/connectivity-microservice/internal/centralizer"
	"github.com/kristianrpo/connectivity-microservice/internal/domain"
	"github.com/kristianrpo/connectivity-microservice/internal/metrics"
	"github.com/kristianrpo/connectivity-microservice/internal/publisher"
	"github.com/kristianrpo/connectivity-microservice/internal/service"
	"github.com/kristianrpo/connectivity-microservice/pkg/config"
	mq "github.com/kristianrpo/connectivity-microservice/pkg/broker"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	"github.com/kristianrpo/connectivity-microservice/pkg/utils"
	"go.uber.org/zap"
)

// ErrValidation marks a delivery that can never be processed.
var ErrValidation = errors.New("invalid event")

const (
	pipelineRegistration = "registration"
	pipelineDocument     = "document"
)

type Dispatcher struct {
	registration  service.RegistrationService
	document      service.DocumentService
	validate      *validator.Validate
	publishPolicy string
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

func NewDispatcher(
	registration service.RegistrationService,
	document service.DocumentService,
	publishPolicy string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Dispatcher{
		registration:  registration,
		document:      document,
		validate:      v,
		publishPolicy: publishPolicy,
		metrics:       m,
		logger:        logger,
	}
}

// Routes binds each enabled pipeline to its queue. Queue names follow the routing keys.
func (d *Dispatcher) Routes(pipelines config.Pipelines, registration, document bool) []mq.Route {
	var routes []mq.Route

	if registration {
		routes = append(routes, mq.Route{
			Queue:      pipelines.Registration.Queue,
			RoutingKey: pipelines.Registration.RoutingKey,
			Handler:    d.HandleUserRegistered,
		})
	}
	if document {
		routes = append(routes, mq.Route{
			Queue:      pipelines.Document.Queue,
			RoutingKey: pipelines.Document.RoutingKey,
			Handler:    d.HandleDocumentAuthenticationRequested,
		})
	}

	return routes
}

func (d *Dispatcher) HandleUserRegistered(ctx context.Context, msg mq.Message) mq.Disposition {
	ctx = mylogger.WithMessageID(ctx, msg.MessageID)

	event, err := decode[domain.UserRegisteredEvent](d.validate, msg.Body)
	if err != nil {
		return d.reject(ctx, pipelineRegistration, msg, err)
	}

	ctx = mylogger.WithMessageID(ctx, event.MessageID)

	outcome, err := d.registration.ProcessUserRegistered(ctx, event)
	return d.settle(ctx, pipelineRegistration, outcome, err)
}

func (d *Dispatcher) HandleDocumentAuthenticationRequested(ctx context.Context, msg mq.Message) mq.Disposition {
	ctx = mylogger.WithMessageID(ctx, msg.MessageID)

	event, err := decode[domain.DocumentAuthenticationRequestedEvent](d.validate, msg.Body)
	if err != nil {
		return d.reject(ctx, pipelineDocument, msg, err)
	}

	ctx = mylogger.WithMessageID(ctx, event.MessageID)

	outcome, err := d.document.ProcessAuthenticationRequested(ctx, event)
	return d.settle(ctx, pipelineDocument, outcome, err)
}

func decode[T any](v *validator.Validate, body []byte) (T, error) {
	var event T

	if err := json.Unmarshal(body, &event); err != nil {
		return event, fmt.Errorf("%w: malformed json: %v", ErrValidation, err)
	}

	if err := v.Struct(event); err != nil {
		return event, fmt.Errorf("%w: %s", ErrValidation, utils.JoinValidationError(err))
	}

	return event, nil
}

func (d *Dispatcher) reject(ctx context.Context, pipeline string, msg mq.Message, err error) mq.Disposition {
	mylogger.Warn(
		ctx,
		d.logger,
		"Rejecting invalid event",
		zap.String("pipeline", pipeline),
		zap.String("routing_key", msg.RoutingKey),
		zap.Error(err),
	)

	d.metrics.ObserveEvent(pipeline, mq.Reject.String())
	return mq.Reject
}

func (d *Dispatcher) settle(ctx context.Context, pipeline string, outcome service.Outcome, err error) mq.Disposition {
	disposition := d.dispositionFor(err)

	fields := []zap.Field{
		zap.String("pipeline", pipeline),
		zap.Bool("duplicate", outcome.Duplicate),
		zap.Stringer("disposition", disposition),
	}
	if outcome.Trace != nil {
		fields = append(fields, zap.String("trace_status", string(outcome.Trace.Status)))
	}

	if err != nil {
		mylogger.Error(ctx, d.logger, "Event processing incomplete", append(fields, zap.Error(err))...)
	} else {
		mylogger.Info(ctx, d.logger, "Event settled", fields...)
	}

	d.metrics.ObserveEvent(pipeline, disposition.String())
	return disposition
}

func (d *Dispatcher) dispositionFor(err error) mq.Disposition {
	if err == nil {
		return mq.Ack
	}

	if centralizer.IsTransportError(err) {
		return mq.Requeue
	}

	var pubErr *publisher.PublishError
	if errors.As(err, &pubErr) {
		if d.publishPolicy == config.PublishFailureRequeue {
			return mq.Requeue
		}
		return mq.Ack
	}

	return mq.Requeue
}
