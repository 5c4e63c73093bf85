package service

import (
	"context"

	"github.com/kristianrpo/connectivity-microservice/internal/centralizer"
	"github.com/kristianrpo/connectivity-microservice/internal/domain"
	"github.com/kristianrpo/connectivity-microservice/internal/repository"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type RegistrationGateway interface {
	readiness
	RegisterCitizen(ctx context.Context, req centralizer.RegisterCitizenRequest) (*centralizer.Result, error)
}

type RegistrationService interface {
	ProcessUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) (Outcome, error)
}

type registrationService struct {
	gateway  RegistrationGateway
	pipeline *pipeline
	tracer   trace.Tracer
	logger   *zap.Logger
}

func NewRegistrationService(
	repo repository.TraceRepository,
	gateway RegistrationGateway,
	publisher ResultPublisher,
	cfg PipelineConfig,
	logger *zap.Logger,
) RegistrationService {
	return &registrationService{
		gateway: gateway,
		pipeline: &pipeline{
			name:      "registration",
			repo:      repo,
			gateway:   gateway,
			publisher: publisher,
			cfg:       cfg,
			logger:    logger,
		},
		tracer: otel.Tracer("service/registration_service"),
		logger: logger,
	}
}

// ProcessUserRegistered forwards a new account to the centralizer once per message id.
func (s *registrationService) ProcessUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "RegistrationService.ProcessUserRegistered")
	defer span.End()

	mylogger.Info(
		ctx,
		s.logger,
		"Forwarding citizen registration",
		zap.Int64("id_citizen", event.IDCitizen),
	)

	pending := &domain.Trace{
		MessageID: event.MessageID,
		EventType: domain.EventCitizenRegistration,
		SubjectID: event.IDCitizen,
	}

	return s.pipeline.run(ctx, pending, func(ctx context.Context) (*centralizer.Result, error) {
		return s.gateway.RegisterCitizen(ctx, centralizer.RegisterCitizenRequest{
			ID:    event.IDCitizen,
			Name:  event.Name,
			Email: event.Email,
		})
	})
}
