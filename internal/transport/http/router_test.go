package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kristianrpo/connectivity-microservice/internal/auth"
	"github.com/kristianrpo/connectivity-microservice/internal/centralizer"
	"github.com/kristianrpo/connectivity-microservice/internal/transport/http/handler"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

const routerSecret = "router-secret"

type stubLookup struct {
	results map[int64]*centralizer.Result
	err     error
	calls   []int64
}

func (s *stubLookup) CheckCitizen(_ context.Context, id int64) (*centralizer.Result, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return nil, s.err
	}
	if res, ok := s.results[id]; ok {
		return res, nil
	}
	return &centralizer.Result{Outcome: centralizer.OutcomeNotExists, StatusCode: 204}, nil
}

type RouterSuite struct {
	suite.Suite

	app    *fiber.App
	lookup *stubLookup
	token  string
}

func (s *RouterSuite) SetupTest() {
	logger := zap.NewNop()

	validator, err := auth.NewValidator(routerSecret, "HS256")
	s.Require().NoError(err)

	s.lookup = &stubLookup{results: map[int64]*centralizer.Result{
		1234567890: {
			Outcome:    centralizer.OutcomeExists,
			StatusCode: 200,
			Payload:    json.RawMessage(`{"operator":"Operador Ciudadano CCP"}`),
		},
		42: {Outcome: centralizer.OutcomeExists, StatusCode: 200},
		7:  {Outcome: centralizer.OutcomeFailure, StatusCode: 422, Message: "Unexpected response from external API: 422"},
		8:  {Outcome: centralizer.OutcomeFailure, StatusCode: 501, Message: "Unexpected response from external API: 501"},
	}}

	s.app = fiber.New()
	RegisterRoutes(s.app, &Handlers{
		Citizen: handler.NewCitizenHandler(s.lookup, nil, logger),
	}, validator, logger)

	s.token = s.sign(jwt.MapClaims{
		"client_id":  "auth-microservice",
		"scope":      "read:citizens",
		"grant_type": auth.GrantClientCredentials,
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
}

func (s *RouterSuite) sign(claims jwt.MapClaims) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(routerSecret))
	s.Require().NoError(err)
	return token
}

func (s *RouterSuite) get(path, authorization string) (int, string) {
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set(fiber.HeaderAuthorization, authorization)
	}

	resp, err := s.app.Test(req, -1)
	s.Require().NoError(err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, string(body)
}

func (s *RouterSuite) TestExists_ReturnsCentralizerPayload() {
	code, body := s.get("/citizens/1234567890/exists/", "Bearer "+s.token)

	s.Require().Equal(fiber.StatusOK, code)
	s.Require().JSONEq(`{"operator":"Operador Ciudadano CCP"}`, body)
	s.Require().Equal([]int64{1234567890}, s.lookup.calls)
}

func (s *RouterSuite) TestExists_WithoutPayload() {
	code, body := s.get("/citizens/42/exists/", "Bearer "+s.token)

	s.Require().Equal(fiber.StatusOK, code)
	s.Require().JSONEq(`{"exists":true}`, body)
}

func (s *RouterSuite) TestNotExists_NoContent() {
	code, body := s.get("/citizens/999/exists/", "Bearer "+s.token)

	s.Require().Equal(fiber.StatusNoContent, code)
	s.Require().Empty(body)
}

func (s *RouterSuite) TestInvalidCitizenID() {
	for _, id := range []string{"abc", "0", "-5"} {
		code, body := s.get("/citizens/"+id+"/exists/", "Bearer "+s.token)

		s.Require().Equal(fiber.StatusBadRequest, code, id)
		s.Require().JSONEq(`{"error":"Invalid citizen ID"}`, body)
	}
	s.Require().Empty(s.lookup.calls)
}

func (s *RouterSuite) TestUpstreamClientErrorIsBadRequest() {
	code, body := s.get("/citizens/7/exists/", "Bearer "+s.token)

	s.Require().Equal(fiber.StatusBadRequest, code)
	s.Require().Contains(body, "422")
}

func (s *RouterSuite) TestUpstreamServerErrorIsInternal() {
	code, _ := s.get("/citizens/8/exists/", "Bearer "+s.token)
	s.Require().Equal(fiber.StatusInternalServerError, code)
}

func (s *RouterSuite) TestLookupErrorIsInternal() {
	s.lookup.err = &centralizer.TransportError{Op: "validate_citizen", Err: errors.New("dial tcp: refused")}

	code, body := s.get("/citizens/1234567890/exists/", "Bearer "+s.token)

	s.Require().Equal(fiber.StatusInternalServerError, code)
	s.Require().JSONEq(`{"error":"Internal server error"}`, body)
}

func (s *RouterSuite) TestUnauthorized() {
	expired := s.sign(jwt.MapClaims{
		"client_id": "auth-microservice",
		"exp":       time.Now().Add(-time.Minute).Unix(),
	})
	wrongGrant := s.sign(jwt.MapClaims{
		"client_id":  "auth-microservice",
		"grant_type": "password",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"client_id": "auth-microservice",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("someone-else"))
	s.Require().NoError(err)

	cases := map[string]struct {
		header  string
		message string
	}{
		"missing header": {header: "", message: "Authentication credentials were not provided"},
		"wrong scheme":   {header: "Basic abc", message: "Invalid token"},
		"garbage token":  {header: "Bearer not-a-jwt", message: "Invalid token"},
		"expired":        {header: "Bearer " + expired, message: "Token has expired"},
		"bad signature":  {header: "Bearer " + foreign, message: "Invalid token signature"},
		"wrong grant":    {header: "Bearer " + wrongGrant, message: "Invalid grant type. Expected client_credentials"},
	}

	for name, tc := range cases {
		code, body := s.get("/citizens/1234567890/exists/", tc.header)

		s.Require().Equal(fiber.StatusUnauthorized, code, name)

		var resp map[string]string
		s.Require().NoError(json.Unmarshal([]byte(body), &resp), name)
		s.Require().Equal("Unauthorized", resp["error"], name)
		s.Require().Equal(tc.message, resp["message"], name)
	}

	s.Require().Empty(s.lookup.calls)
}

func (s *RouterSuite) TestHealthIsPublic() {
	code, body := s.get("/health", "")

	s.Require().Equal(fiber.StatusOK, code)
	s.Require().JSONEq(`{"status":"ok"}`, body)
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}
