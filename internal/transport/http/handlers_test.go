package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"relaymart/internal/platform/logger"
	"relaymart/internal/snapshot"
	snapshotstore "relaymart/internal/snapshot/store"
	"relaymart/internal/watermark"
	"relaymart/pkg/domain"
	dErrors "relaymart/pkg/domain-errors"
)

type fakeRunner struct {
	ranAll    bool
	ranTarget string
	err       error
}

func (f *fakeRunner) RunAll(context.Context) error {
	f.ranAll = true
	return f.err
}

func (f *fakeRunner) RunTarget(_ context.Context, target string) error {
	f.ranTarget = target
	return f.err
}

type HandlerSuite struct {
	suite.Suite
	runner     *fakeRunner
	watermarks *watermark.InMemoryStore
	snapshots  *snapshotstore.InMemoryStore
	server     http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.runner = &fakeRunner{}
	s.watermarks = watermark.NewInMemoryStore()
	s.snapshots = snapshotstore.NewInMemoryStore()
	s.server = NewRouter(NewHandler(s.runner, s.watermarks, s.snapshots, logger.NewDiscard()))
}

func (s *HandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.server.ServeHTTP(w, req)
	return w
}

func (s *HandlerSuite) TestHealth() {
	w := s.do(http.MethodGet, "/healthz", "")
	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerSuite) TestListWatermarks() {
	ts := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.watermarks.Commit(context.Background(), "parcel_snapshot", ts))

	w := s.do(http.MethodGet, "/watermarks", "")
	s.Require().Equal(http.StatusOK, w.Code)

	var body struct {
		Watermarks map[string]string `json:"watermarks"`
	}
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&body))
	s.Equal("2026-08-20T12:00:00Z", body.Watermarks["parcel_snapshot"])
}

func (s *HandlerSuite) TestTriggerRun() {
	s.Run("empty body runs full cycle", func() {
		w := s.do(http.MethodPost, "/runs", "")
		s.Equal(http.StatusOK, w.Code)
		s.True(s.runner.ranAll)
	})

	s.Run("named target runs one pass", func() {
		w := s.do(http.MethodPost, "/runs", `{"target":"fct_exceptions"}`)
		s.Equal(http.StatusOK, w.Code)
		s.Equal("fct_exceptions", s.runner.ranTarget)
	})

	s.Run("unknown target maps to 404", func() {
		s.runner.err = dErrors.New(dErrors.CodeNotFound, "unknown target")
		defer func() { s.runner.err = nil }()

		w := s.do(http.MethodPost, "/runs", `{"target":"nope"}`)
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("malformed body is a bad request", func() {
		w := s.do(http.MethodPost, "/runs", `{"target":`)
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestGetParcel() {
	parcel := domain.ParcelID(uuid.New())
	tier := "NEXT_DAY"
	s.Require().NoError(s.snapshots.Upsert(context.Background(), []snapshot.ParcelSnapshot{{
		ParcelID:    parcel,
		Status:      snapshot.StatusInDepot,
		ServiceTier: &tier,
	}}))

	s.Run("returns snapshot", func() {
		w := s.do(http.MethodGet, "/parcels/"+parcel.String(), "")
		s.Require().Equal(http.StatusOK, w.Code)

		var body parcelResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&body))
		s.Equal(parcel.String(), body.ParcelID)
		s.Equal("IN_DEPOT", body.Status)
		s.Require().NotNil(body.ServiceTier)
		s.Equal("NEXT_DAY", *body.ServiceTier)
	})

	s.Run("unknown parcel is 404", func() {
		w := s.do(http.MethodGet, "/parcels/"+uuid.NewString(), "")
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("invalid id is 400", func() {
		w := s.do(http.MethodGet, "/parcels/not-a-uuid", "")
		s.Equal(http.StatusBadRequest, w.Code)
	})
}
