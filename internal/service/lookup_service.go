package service

import (
	"context"

	"github.com/kristianrpo/connectivity-microservice/internal/centralizer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type LookupGateway interface {
	ValidateCitizen(ctx context.Context, id int64) (*centralizer.Result, error)
}

type LookupService interface {
	CheckCitizen(ctx context.Context, id int64) (*centralizer.Result, error)
}

type lookupService struct {
	gateway LookupGateway
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewLookupService(gateway LookupGateway, logger *zap.Logger) LookupService {
	return &lookupService{
		gateway: gateway,
		logger:  logger,
		tracer:  otel.Tracer("service/lookup_service"),
	}
}

func (s *lookupService) CheckCitizen(ctx context.Context, id int64) (*centralizer.Result, error) {
	ctx, span := s.tracer.Start(ctx, "LookupService.CheckCitizen")
	defer span.End()

	span.SetAttributes(attribute.Int64("citizen_id", id))

	res, err := s.gateway.ValidateCitizen(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	return res, nil
}
