package repository_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kristianrpo/connectivity-microservice/internal/domain"
	"github.com/kristianrpo/connectivity-microservice/internal/repository"
	"github.com/kristianrpo/connectivity-microservice/pkg/testsuite"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type TraceRepositorySuite struct {
	testsuite.BaseSuite

	repo repository.TraceRepository
}

func (s *TraceRepositorySuite) SetupSuite() {
	s.BaseSuite.SetupInfrastructure(testsuite.Options{Postgres: true})
	s.repo = repository.NewTraceRepository(s.DbPool, zap.NewNop())
}

func (s *TraceRepositorySuite) TearDownSuite() {
	s.BaseSuite.TearDownInfrastructure()
}

func (s *TraceRepositorySuite) SetupTest() {
	s.BaseSuite.TruncateTable("traces")
}

func (s *TraceRepositorySuite) pending(messageID string) *domain.Trace {
	created, err := s.repo.CreatePending(s.Ctx, &domain.Trace{
		MessageID: messageID,
		EventType: domain.EventCitizenRegistration,
		SubjectID: 1234567890,
	})
	s.Require().NoError(err)
	return created
}

func (s *TraceRepositorySuite) TestCreatePending() {
	created := s.pending("m1")

	s.Require().NotZero(created.ID)
	s.Require().Equal(domain.TraceStatusPending, created.Status)
	s.Require().False(created.ReceivedAt.IsZero())
	s.Require().Nil(created.CompletedAt)
	s.Require().Nil(created.ExternalStatusCode)
	s.Require().Empty(created.DocumentID)

	got, err := s.repo.GetByMessageID(s.Ctx, "m1")
	s.Require().NoError(err)
	s.Require().Equal(created.ID, got.ID)
	s.Require().Equal(int64(1234567890), got.SubjectID)
}

func (s *TraceRepositorySuite) TestGetByMessageID_NotFound() {
	_, err := s.repo.GetByMessageID(s.Ctx, "absent")
	s.Require().ErrorIs(err, repository.ErrTraceNotFound)
}

func (s *TraceRepositorySuite) TestCreatePending_DuplicateMessageID() {
	s.pending("m1")

	_, err := s.repo.CreatePending(s.Ctx, &domain.Trace{
		MessageID: "m1",
		EventType: domain.EventCitizenRegistration,
		SubjectID: 1,
	})
	s.Require().ErrorIs(err, repository.ErrDuplicateTrace)
}

func (s *TraceRepositorySuite) TestCreatePending_ConcurrentInsertsKeepOne() {
	const workers = 10

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		created    int
		duplicates int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := s.repo.CreatePending(s.Ctx, &domain.Trace{
				MessageID: "m-race",
				EventType: domain.EventCitizenRegistration,
				SubjectID: 7,
			})

			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				created++
			case repository.ErrDuplicateTrace:
				duplicates++
			}
		}()
	}
	wg.Wait()

	s.Require().Equal(1, created)
	s.Require().Equal(workers-1, duplicates)
}

func (s *TraceRepositorySuite) TestMarkTerminal_OnlyFromPending() {
	s.pending("m1")

	done, err := s.repo.MarkTerminal(s.Ctx, "m1", domain.Completion{
		Status:        domain.TraceStatusSent,
		StatusCode:    domain.IntPtr(201),
		Response:      json.RawMessage(`{"message":"ok"}`),
		ResultMessage: "Citizen registered successfully",
	})
	s.Require().NoError(err)
	s.Require().Equal(domain.TraceStatusSent, done.Status)
	s.Require().Equal(201, *done.ExternalStatusCode)
	s.Require().JSONEq(`{"message":"ok"}`, string(done.ExternalResponse))
	s.Require().Equal("Citizen registered successfully", done.ResultMessage)
	s.Require().NotNil(done.CompletedAt)

	_, err = s.repo.MarkTerminal(s.Ctx, "m1", domain.Completion{Status: domain.TraceStatusError, ErrorMessage: "late"})
	s.Require().ErrorIs(err, repository.ErrTraceAlreadyTerminal)

	got, err := s.repo.GetByMessageID(s.Ctx, "m1")
	s.Require().NoError(err)
	s.Require().Equal(domain.TraceStatusSent, got.Status)
	s.Require().Empty(got.ErrorMessage)
}

func (s *TraceRepositorySuite) TestMarkTerminal_ErrorWithoutResponse() {
	s.pending("m1")

	done, err := s.repo.MarkTerminal(s.Ctx, "m1", domain.Completion{
		Status:       domain.TraceStatusError,
		ErrorMessage: "centralizer register_citizen: timeout",
	})
	s.Require().NoError(err)
	s.Require().Nil(done.ExternalStatusCode)
	s.Require().Nil(done.ExternalResponse)
	s.Require().Equal("centralizer register_citizen: timeout", done.ErrorMessage)
}

func (s *TraceRepositorySuite) TestMarkTerminal_Rejections() {
	_, err := s.repo.MarkTerminal(s.Ctx, "absent", domain.Completion{Status: domain.TraceStatusSent})
	s.Require().ErrorIs(err, repository.ErrTraceNotFound)

	s.pending("m1")
	_, err = s.repo.MarkTerminal(s.Ctx, "m1", domain.Completion{Status: domain.TraceStatusPending})
	s.Require().ErrorIs(err, repository.ErrInvalidCompletion)
}

func (s *TraceRepositorySuite) TestReleasePending() {
	s.pending("m1")

	s.Require().NoError(s.repo.ReleasePending(s.Ctx, "m1"))

	_, err := s.repo.GetByMessageID(s.Ctx, "m1")
	s.Require().ErrorIs(err, repository.ErrTraceNotFound)

	again := s.pending("m1")
	s.Require().Equal(domain.TraceStatusPending, again.Status)
}

func (s *TraceRepositorySuite) TestReleasePending_KeepsTerminalTrace() {
	s.pending("m1")
	_, err := s.repo.MarkTerminal(s.Ctx, "m1", domain.Completion{Status: domain.TraceStatusError, ErrorMessage: "timeout"})
	s.Require().NoError(err)

	err = s.repo.ReleasePending(s.Ctx, "m1")
	s.Require().ErrorIs(err, repository.ErrTraceAlreadyTerminal)

	err = s.repo.ReleasePending(s.Ctx, "absent")
	s.Require().ErrorIs(err, repository.ErrTraceNotFound)

	got, err := s.repo.GetByMessageID(s.Ctx, "m1")
	s.Require().NoError(err)
	s.Require().Equal(domain.TraceStatusError, got.Status)
}

func (s *TraceRepositorySuite) TestMarkPublished_KeepsFirstTimestamp() {
	s.pending("m1")
	_, err := s.repo.MarkTerminal(s.Ctx, "m1", domain.Completion{Status: domain.TraceStatusFailed, StatusCode: domain.IntPtr(409)})
	s.Require().NoError(err)

	s.Require().NoError(s.repo.MarkPublished(s.Ctx, "m1"))
	first, err := s.repo.GetByMessageID(s.Ctx, "m1")
	s.Require().NoError(err)
	s.Require().NotNil(first.PublishedAt)

	s.Require().NoError(s.repo.MarkPublished(s.Ctx, "m1"))
	second, err := s.repo.GetByMessageID(s.Ctx, "m1")
	s.Require().NoError(err)
	s.Require().True(first.PublishedAt.Equal(*second.PublishedAt))

	s.Require().ErrorIs(s.repo.MarkPublished(s.Ctx, "absent"), repository.ErrTraceNotFound)
}

func (s *TraceRepositorySuite) TestDocumentTraceFields() {
	created, err := s.repo.CreatePending(s.Ctx, &domain.Trace{
		MessageID:     "d1",
		EventType:     domain.EventDocumentAuthentication,
		SubjectID:     42,
		DocumentID:    "doc-123",
		DocumentTitle: "Diploma",
	})
	s.Require().NoError(err)
	s.Require().Equal("doc-123", created.DocumentID)
	s.Require().Equal("Diploma", created.DocumentTitle)
	s.Require().Equal(domain.EventDocumentAuthentication, created.EventType)
}

func (s *TraceRepositorySuite) TestListUnpublished() {
	s.pending("pending")

	for _, id := range []string{"sent", "published"} {
		s.pending(id)
		_, err := s.repo.MarkTerminal(s.Ctx, id, domain.Completion{Status: domain.TraceStatusSent})
		s.Require().NoError(err)
	}
	s.Require().NoError(s.repo.MarkPublished(s.Ctx, "published"))

	traces, err := s.repo.ListUnpublished(s.Ctx, time.Now().Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(traces, 1)
	s.Require().Equal("sent", traces[0].MessageID)

	traces, err = s.repo.ListUnpublished(s.Ctx, time.Now().Add(-time.Hour), 10)
	s.Require().NoError(err)
	s.Require().Empty(traces)
}

func TestTraceRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	suite.Run(t, new(TraceRepositorySuite))
}
