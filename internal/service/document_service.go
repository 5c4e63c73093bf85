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

type DocumentGateway interface {
	readiness
	AuthenticateDocument(ctx context.Context, req centralizer.AuthenticateDocumentRequest) (*centralizer.Result, error)
}

type DocumentService interface {
	ProcessAuthenticationRequested(ctx context.Context, event domain.DocumentAuthenticationRequestedEvent) (Outcome, error)
}

type documentService struct {
	gateway  DocumentGateway
	pipeline *pipeline
	tracer   trace.Tracer
	logger   *zap.Logger
}

func NewDocumentService(
	repo repository.TraceRepository,
	gateway DocumentGateway,
	publisher ResultPublisher,
	cfg PipelineConfig,
	logger *zap.Logger,
) DocumentService {
	return &documentService{
		gateway: gateway,
		pipeline: &pipeline{
			name:      "document",
			repo:      repo,
			gateway:   gateway,
			publisher: publisher,
			cfg:       cfg,
			logger:    logger,
		},
		tracer: otel.Tracer("service/document_service"),
		logger: logger,
	}
}

func (s *documentService) ProcessAuthenticationRequested(
	ctx context.Context,
	event domain.DocumentAuthenticationRequestedEvent,
) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "DocumentService.ProcessAuthenticationRequested")
	defer span.End()

	mylogger.Info(
		ctx,
		s.logger,
		"Forwarding document authentication",
		zap.String("document_id", event.DocumentID),
		zap.Int64("id_citizen", event.IDCitizen),
	)

	pending := &domain.Trace{
		MessageID:     event.MessageID,
		EventType:     domain.EventDocumentAuthentication,
		SubjectID:     event.IDCitizen,
		DocumentID:    event.DocumentID,
		DocumentTitle: event.DocumentTitle,
	}

	return s.pipeline.run(ctx, pending, func(ctx context.Context) (*centralizer.Result, error) {
		return s.gateway.AuthenticateDocument(ctx, centralizer.AuthenticateDocumentRequest{
			IDCitizen:     event.IDCitizen,
			URLDocument:   event.URLDocument,
			DocumentTitle: event.DocumentTitle,
		})
	})
}
