package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kristianrpo/connectivity-microservice/internal/centralizer"
	"github.com/kristianrpo/connectivity-microservice/internal/domain"
	"github.com/kristianrpo/connectivity-microservice/internal/repository"
	"github.com/kristianrpo/connectivity-microservice/pkg/broker"
)

// memoryTraceRepo mirrors the traces table, including its unique message_id constraint.
type memoryTraceRepo struct {
	mu        sync.Mutex
	traces    map[string]*domain.Trace
	nextID    int64
	createErr error
}

func newMemoryTraceRepo() *memoryTraceRepo {
	return &memoryTraceRepo{traces: make(map[string]*domain.Trace)}
}

func (r *memoryTraceRepo) GetByMessageID(_ context.Context, messageID string) (*domain.Trace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.traces[messageID]
	if !ok {
		return nil, repository.ErrTraceNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memoryTraceRepo) CreatePending(_ context.Context, t *domain.Trace) (*domain.Trace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return nil, r.createErr
	}
	if _, ok := r.traces[t.MessageID]; ok {
		return nil, repository.ErrDuplicateTrace
	}

	r.nextID++
	stored := *t
	stored.ID = r.nextID
	stored.Status = domain.TraceStatusPending
	stored.ReceivedAt = time.Now().UTC()
	r.traces[t.MessageID] = &stored

	cp := stored
	return &cp, nil
}

func (r *memoryTraceRepo) MarkTerminal(_ context.Context, messageID string, c domain.Completion) (*domain.Trace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.traces[messageID]
	if !ok {
		return nil, repository.ErrTraceNotFound
	}
	if t.Status != domain.TraceStatusPending {
		return nil, repository.ErrTraceAlreadyTerminal
	}

	now := time.Now().UTC()
	t.Status = c.Status
	t.ExternalStatusCode = c.StatusCode
	t.ExternalResponse = c.Response
	t.ResultMessage = c.ResultMessage
	t.ErrorMessage = c.ErrorMessage
	t.CompletedAt = &now

	cp := *t
	return &cp, nil
}

func (r *memoryTraceRepo) MarkPublished(_ context.Context, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.traces[messageID]
	if !ok {
		return repository.ErrTraceNotFound
	}
	if t.PublishedAt == nil {
		now := time.Now().UTC()
		t.PublishedAt = &now
	}
	return nil
}

func (r *memoryTraceRepo) ReleasePending(_ context.Context, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.traces[messageID]
	if !ok {
		return repository.ErrTraceNotFound
	}
	if t.Status != domain.TraceStatusPending {
		return repository.ErrTraceAlreadyTerminal
	}
	delete(r.traces, messageID)
	return nil
}

func (r *memoryTraceRepo) ListUnpublished(_ context.Context, completedBefore time.Time, limit int) ([]*domain.Trace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Trace
	for _, t := range r.traces {
		if len(out) == limit {
			break
		}
		if t.IsTerminal() && !t.IsPublished() && t.CompletedAt.Before(completedBefore) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryTraceRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.traces)
}

type gatewayReply struct {
	res *centralizer.Result
	err error
}

// fakeGateway answers every operation with the queued replies, repeating the last one.
type fakeGateway struct {
	mu        sync.Mutex
	replies   []gatewayReply
	calls     int
	registers []centralizer.RegisterCitizenRequest
	documents []centralizer.AuthenticateDocumentRequest
	delay     time.Duration
	readyErr  error
}

func newFakeGateway(replies ...gatewayReply) *fakeGateway {
	return &fakeGateway{replies: replies}
}

func (g *fakeGateway) next() (*centralizer.Result, error) {
	g.calls++
	idx := g.calls - 1
	if idx >= len(g.replies) {
		idx = len(g.replies) - 1
	}
	r := g.replies[idx]
	return r.res, r.err
}

func (g *fakeGateway) RegisterCitizen(_ context.Context, req centralizer.RegisterCitizenRequest) (*centralizer.Result, error) {
	time.Sleep(g.delay)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.registers = append(g.registers, req)
	return g.next()
}

func (g *fakeGateway) AuthenticateDocument(_ context.Context, req centralizer.AuthenticateDocumentRequest) (*centralizer.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.documents = append(g.documents, req)
	return g.next()
}

func (g *fakeGateway) ValidateCitizen(_ context.Context, _ int64) (*centralizer.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next()
}

func (g *fakeGateway) Ready() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readyErr
}

func (g *fakeGateway) setReady(err error) {
	g.mu.Lock()
	g.readyErr = err
	g.mu.Unlock()
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeBroker struct {
	mu       sync.Mutex
	failures int
	messages []broker.Message
}

func (b *fakeBroker) Publish(_ context.Context, msg broker.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures > 0 {
		b.failures--
		return errors.New("broker unavailable")
	}
	b.messages = append(b.messages, msg)
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) published() []broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broker.Message(nil), b.messages...)
}

func success(status int) gatewayReply {
	return gatewayReply{res: &centralizer.Result{
		Outcome:    centralizer.OutcomeSuccess,
		StatusCode: status,
		Message:    "ok",
		Payload:    []byte(`{"message":"ok"}`),
	}}
}

func failure(status int, msg string) gatewayReply {
	return gatewayReply{res: &centralizer.Result{
		Outcome:    centralizer.OutcomeFailure,
		StatusCode: status,
		Message:    msg,
	}}
}

func unavailable() gatewayReply {
	return gatewayReply{err: &centralizer.TransportError{Op: "register_citizen", Err: centralizer.ErrUnavailable}}
}

func transportFailure() gatewayReply {
	return gatewayReply{err: &centralizer.TransportError{Op: "register_citizen", Err: errors.New("connection refused")}}
}
