package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Teemukoivumaa/bikeApp/internal/auth"
	"github.com/Teemukoivumaa/bikeApp/internal/domain"
	"github.com/Teemukoivumaa/bikeApp/internal/sync"
)

func newTestServer(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, body string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if len(scopes) > 0 {
		scopeSet := make(map[string]struct{}, len(scopes))
		for _, s := range scopes {
			scopeSet[s] = struct{}{}
		}
		claims := &auth.Claims{Subject: "rider-1", Scopes: scopeSet, ExpiresAt: time.Now().Add(time.Hour)}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestLoginRequiresWriteScope(t *testing.T) {
	h := NewHandler(&stubTokens{loginURL: "https://example.com/authorize?x=1"}, &stubSync{}, &apiActivities{}, &apiChallenges{}, nil)
	mux := newTestServer(h)

	rec := doRequest(t, mux, http.MethodPost, "/v1/auth/login", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, mux, http.MethodPost, "/v1/auth/login", "", auth.ScopeRidesRead)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, mux, http.MethodPost, "/v1/auth/login", "", auth.ScopeRidesWrite)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "https://example.com/authorize?x=1", resp.AuthorizeURL)
}

func TestCallbackCompletesAndExchanges(t *testing.T) {
	tokens := &stubTokens{}
	h := NewHandler(tokens, &stubSync{}, &apiActivities{}, &apiChallenges{}, nil)
	mux := newTestServer(h)

	rec := doRequest(t, mux, http.MethodGet, "/v1/auth/callback?code=abc&scope=activity:read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "abc", tokens.completedCode)
	require.Equal(t, "activity:read", tokens.completedScope)
	require.Equal(t, 1, tokens.exchangeCalls)

	var resp AuthStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, string(domain.AuthStateAuthenticated), resp.State)
}

func TestCallbackDeniedByUser(t *testing.T) {
	tokens := &stubTokens{}
	h := NewHandler(tokens, &stubSync{}, &apiActivities{}, &apiChallenges{}, nil)
	mux := newTestServer(h)

	rec := doRequest(t, mux, http.MethodGet, "/v1/auth/callback?error=access_denied", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, tokens.exchangeCalls)
}

func TestCallbackTransportFailureAccepted(t *testing.T) {
	tokens := &stubTokens{exchangeErr: &domain.TransportError{Op: "exchange", Err: context.DeadlineExceeded}}
	h := NewHandler(tokens, &stubSync{}, &apiActivities{}, &apiChallenges{}, nil)
	mux := newTestServer(h)

	rec := doRequest(t, mux, http.MethodGet, "/v1/auth/callback?code=abc", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp AuthStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, string(domain.AuthStateFinished), resp.State)
}

func TestRunSyncReportsCounts(t *testing.T) {
	syncer := &stubSync{result: sync.Result{PagesFetched: 20, Fetched: 48, Inserted: 45, Skipped: 3}}
	h := NewHandler(&stubTokens{}, syncer, &apiActivities{}, &apiChallenges{}, nil)
	mux := newTestServer(h)

	rec := doRequest(t, mux, http.MethodPost, "/v1/sync", "", auth.ScopeRidesWrite)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 45, resp.Inserted)
	require.Equal(t, 3, resp.Skipped)
	require.Equal(t, 20, resp.PagesFetched)
}

func TestRunSyncWithoutCredential(t *testing.T) {
	syncer := &stubSync{err: domain.ErrNotAuthenticated}
	h := NewHandler(&stubTokens{}, syncer, &apiActivities{}, &apiChallenges{}, nil)
	mux := newTestServer(h)

	rec := doRequest(t, mux, http.MethodPost, "/v1/sync", "", auth.ScopeRidesWrite)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetActivityReturnsDetail(t *testing.T) {
	activity := domain.Activity{ID: 7, ExternalID: "1234", Name: "Morning Ride", Type: "Ride", FullDetailFetched: true}
	repo := &apiActivities{
		byID:      map[int64]domain.Activity{7: activity},
		locations: map[int64][]domain.Location{7: {{ActivityID: 7, Latitude: 60.1, Longitude: 24.9, Role: domain.LocationRoleStart}}},
		streams:   map[int64][]domain.Stream{7: {{ActivityID: 7, Type: "heartrate", Data: []float64{120}}}},
	}
	h := NewHandler(&stubTokens{}, &stubSync{enriched: &activity}, repo, &apiChallenges{}, nil)
	mux := newTestServer(h)

	rec := doRequest(t, mux, http.MethodGet, "/v1/activities/7", "", auth.ScopeRidesRead)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ActivityDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Morning Ride", resp.Name)
	require.Len(t, resp.Locations, 1)
	require.Len(t, resp.Streams, 1)
	require.Equal(t, "Start", resp.Locations[0].Role)
}

func TestGetActivityNotFound(t *testing.T) {
	h := NewHandler(&stubTokens{}, &stubSync{err: domain.ErrActivityNotFound}, &apiActivities{}, &apiChallenges{}, nil)
	mux := newTestServer(h)

	rec := doRequest(t, mux, http.MethodGet, "/v1/activities/404", "", auth.ScopeRidesRead)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateChallengeValidatesAndNotifies(t *testing.T) {
	repo := &apiChallenges{}
	notified := 0
	h := NewHandler(&stubTokens{}, &stubSync{}, &apiActivities{}, repo, func() { notified++ })
	mux := newTestServer(h)

	body := `{"name":"June 100","goal":100,"unit":"km","start_date":"2024-06-01T00:00:00Z","end_date":"2024-06-30T00:00:00Z","recurring":"Monthly"}`
	rec := doRequest(t, mux, http.MethodPost, "/v1/challenges", body, auth.ScopeChallengesWrite)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, notified)
	require.Len(t, repo.created, 1)
	require.True(t, repo.created[0].IsActive)

	rec = doRequest(t, mux, http.MethodPost, "/v1/challenges", `{"name":"","goal":0,"unit":"km"}`, auth.ScopeChallengesWrite)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, mux, http.MethodPost, "/v1/challenges",
		`{"name":"x","goal":1,"unit":"furlongs","start_date":"2024-06-01T00:00:00Z","end_date":"2024-06-30T00:00:00Z"}`,
		auth.ScopeChallengesWrite)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChallengeNotFound(t *testing.T) {
	h := NewHandler(&stubTokens{}, &stubSync{}, &apiActivities{}, &apiChallenges{}, nil)
	mux := newTestServer(h)

	rec := doRequest(t, mux, http.MethodGet, "/v1/challenges/404", "", auth.ScopeChallengesRead)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzUnprotected(t *testing.T) {
	h := NewHandler(&stubTokens{}, &stubSync{}, &apiActivities{}, &apiChallenges{}, nil)
	mux := newTestServer(h)

	rec := doRequest(t, mux, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

type stubTokens struct {
	loginURL       string
	completedCode  string
	completedScope string
	exchangeCalls  int
	exchangeErr    error
	state          domain.AuthState
	credential     *domain.Credential
}

func (s *stubTokens) BeginAuthorization(context.Context) (string, error) {
	return s.loginURL, nil
}

func (s *stubTokens) CompleteAuthorization(_ context.Context, code, scope string) error {
	s.completedCode = code
	s.completedScope = scope
	return nil
}

func (s *stubTokens) ExchangeIfPending(context.Context) error {
	s.exchangeCalls++
	return s.exchangeErr
}

func (s *stubTokens) State(context.Context) (domain.AuthState, error) {
	if s.state == "" {
		return domain.AuthStateUnauthenticated, nil
	}
	return s.state, nil
}

func (s *stubTokens) Credential(context.Context) (*domain.Credential, error) {
	return s.credential, nil
}

type stubSync struct {
	result   sync.Result
	err      error
	enriched *domain.Activity
}

func (s *stubSync) SyncAll(context.Context) (sync.Result, error) {
	return s.result, s.err
}

func (s *stubSync) Enrich(context.Context, int64) (*domain.Activity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.enriched, nil
}

type apiActivities struct {
	byID      map[int64]domain.Activity
	locations map[int64][]domain.Location
	streams   map[int64][]domain.Stream
}

func (r *apiActivities) GetByExternalID(context.Context, string) (*domain.Activity, error) {
	return nil, nil
}

func (r *apiActivities) CreateBatch(context.Context, []domain.NewActivity) ([]int64, error) {
	return nil, nil
}

func (r *apiActivities) Get(_ context.Context, id int64) (*domain.Activity, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *apiActivities) ListAll(context.Context) ([]domain.Activity, error) {
	out := make([]domain.Activity, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	return out, nil
}

func (r *apiActivities) UpdateDetails(context.Context, domain.Activity) error { return nil }

func (r *apiActivities) DeleteByID(_ context.Context, id int64) error {
	if _, ok := r.byID[id]; !ok {
		return domain.ErrActivityNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *apiActivities) ListLocations(_ context.Context, id int64) ([]domain.Location, error) {
	return r.locations[id], nil
}

func (r *apiActivities) InsertStreams(context.Context, []domain.Stream) error { return nil }

func (r *apiActivities) ListStreams(_ context.Context, id int64) ([]domain.Stream, error) {
	return r.streams[id], nil
}

type apiChallenges struct {
	created []domain.Challenge
	byID    map[int64]domain.Challenge
}

func (r *apiChallenges) Create(_ context.Context, c domain.Challenge) (int64, error) {
	c.ID = int64(len(r.created) + 1)
	r.created = append(r.created, c)
	return c.ID, nil
}

func (r *apiChallenges) Get(_ context.Context, id int64) (*domain.Challenge, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *apiChallenges) ListAll(context.Context) ([]domain.Challenge, error) {
	return r.created, nil
}

func (r *apiChallenges) UpdateProgress(context.Context, int64, float64, bool, *domain.DeferredTask) error {
	return nil
}

func (r *apiChallenges) DeleteByID(_ context.Context, id int64) error {
	if _, ok := r.byID[id]; !ok {
		return domain.ErrChallengeNotFound
	}
	delete(r.byID, id)
	return nil
}
