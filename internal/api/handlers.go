// Package api exposes HTTP handlers for the ride sync service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Teemukoivumaa/bikeApp/internal/auth"
	"github.com/Teemukoivumaa/bikeApp/internal/domain"
	"github.com/Teemukoivumaa/bikeApp/internal/sync"
)

// TokenManager is the slice of the credential state machine the handlers use.
type TokenManager interface {
	BeginAuthorization(ctx context.Context) (string, error)
	CompleteAuthorization(ctx context.Context, code, grantedScope string) error
	ExchangeIfPending(ctx context.Context) error
	State(ctx context.Context) (domain.AuthState, error)
	Credential(ctx context.Context) (*domain.Credential, error)
}

// SyncService runs sync passes and on-demand enrichment.
type SyncService interface {
	SyncAll(ctx context.Context) (sync.Result, error)
	Enrich(ctx context.Context, id int64) (*domain.Activity, error)
}

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	tokens     TokenManager
	syncer     SyncService
	activities domain.ActivityRepository
	challenges domain.ChallengeRepository
	recompute  func()
}

// NewHandler builds a Handler. The recompute callback wakes the challenge
// engine after writes that change challenge inputs; nil is allowed.
func NewHandler(tokens TokenManager, syncer SyncService, activities domain.ActivityRepository, challenges domain.ChallengeRepository, recompute func()) *Handler {
	return &Handler{
		tokens:     tokens,
		syncer:     syncer,
		activities: activities,
		challenges: challenges,
		recompute:  recompute,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/auth/login", h.authLogin)
	mux.HandleFunc("/v1/auth/callback", h.authCallback)
	mux.HandleFunc("/v1/auth/status", h.authStatus)
	mux.HandleFunc("/v1/sync", h.runSync)
	mux.HandleFunc("/v1/activities", h.listActivities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/challenges", h.challengesCollection)
	mux.HandleFunc("/v1/challenges/", h.challengeByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) authLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeRidesWrite) {
		return
	}

	redirect, err := h.tokens.BeginAuthorization(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{AuthorizeURL: redirect})
}

// authCallback receives the provider redirect. It is exempt from bearer
// authentication because the provider calls it directly.
func (h *Handler) authCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	query := r.URL.Query()
	if reason := query.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, "authorization_denied", reason)
		return
	}
	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing code parameter")
		return
	}

	if err := h.tokens.CompleteAuthorization(r.Context(), code, query.Get("scope")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	if err := h.tokens.ExchangeIfPending(r.Context()); err != nil {
		if domain.IsUpstreamRejected(err) {
			writeError(w, http.StatusBadGateway, "exchange_rejected", err.Error())
			return
		}
		if domain.IsRetryable(err) {
			// The code is stored; a later exchange attempt can finish the flow.
			writeJSON(w, http.StatusAccepted, AuthStatusResponse{State: string(domain.AuthStateFinished)})
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, AuthStatusResponse{State: string(domain.AuthStateAuthenticated)})
}

func (h *Handler) authStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeRidesRead, auth.ScopeRidesWrite) {
		return
	}

	state, err := h.tokens.State(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := AuthStatusResponse{State: string(state)}
	if state == domain.AuthStateAuthenticated {
		cred, err := h.tokens.Credential(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		if cred != nil {
			resp.AccountID = cred.AccountID
			resp.Scope = cred.Scope
			resp.ExpiresAt = cred.ExpiresAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeRidesWrite) {
		return
	}

	result, err := h.syncer.SyncAll(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotAuthenticated) {
			writeError(w, http.StatusConflict, "not_authenticated", "no provider credential held")
			return
		}
		if domain.IsRetryable(err) {
			writeError(w, http.StatusBadGateway, "upstream_unavailable", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SyncResponse{
		PagesFetched: result.PagesFetched,
		PagesFailed:  result.PagesFailed,
		Fetched:      result.Fetched,
		Inserted:     result.Inserted,
		Skipped:      result.Skipped,
	})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeRidesRead, auth.ScopeRidesWrite) {
		return
	}

	activities, err := h.activities.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		items = append(items, toActivityView(a))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: items})
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid activity id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, id)
	case http.MethodDelete:
		h.deleteActivity(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// getActivity returns the enriched detail view. The first request for an
// activity triggers the one-time detail and stream fetch.
func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id int64) {
	if !requireScope(w, r, auth.ScopeRidesRead, auth.ScopeRidesWrite) {
		return
	}

	activity, err := h.syncer.Enrich(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "activity not found")
			return
		}
		if errors.Is(err, domain.ErrNotAuthenticated) || domain.IsRetryable(err) {
			// Enrichment needs the provider; fall back to the stored row.
			activity, err = h.activities.Get(r.Context(), id)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "server_error", err.Error())
				return
			}
			if activity == nil {
				writeError(w, http.StatusNotFound, "not_found", "activity not found")
				return
			}
		} else {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
	}

	locations, err := h.activities.ListLocations(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	streams, err := h.activities.ListStreams(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := ActivityDetailResponse{ActivityView: toActivityView(*activity)}
	for _, loc := range locations {
		resp.Locations = append(resp.Locations, LocationView{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Role:      string(loc.Role),
		})
	}
	for _, s := range streams {
		resp.Streams = append(resp.Streams, StreamView{
			Type:         s.Type,
			Data:         s.Data,
			SeriesType:   s.SeriesType,
			OriginalSize: s.OriginalSize,
			Resolution:   s.Resolution,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request, id int64) {
	if !requireScope(w, r, auth.ScopeRidesWrite) {
		return
	}

	if err := h.activities.DeleteByID(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "activity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if h.recompute != nil {
		h.recompute()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) challengesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createChallenge(w, r)
	case http.MethodGet:
		h.listChallenges(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createChallenge(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeChallengesWrite) {
		return
	}

	var req CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	id, err := h.challenges.Create(r.Context(), domain.Challenge{
		Name:        req.Name,
		Description: req.Description,
		Goal:        req.Goal,
		Unit:        domain.ChallengeUnit(req.Unit),
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		IsActive:    true,
		Recurring:   domain.RecurrenceInterval(req.Recurring),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if h.recompute != nil {
		h.recompute()
	}
	writeJSON(w, http.StatusCreated, CreateChallengeResponse{ChallengeID: id})
}

func (h *Handler) listChallenges(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeChallengesRead, auth.ScopeChallengesWrite) {
		return
	}

	challenges, err := h.challenges.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ChallengeView, 0, len(challenges))
	for _, c := range challenges {
		items = append(items, toChallengeView(c))
	}
	writeJSON(w, http.StatusOK, ListChallengesResponse{Items: items})
}

func (h *Handler) challengeByID(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/challenges/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid challenge id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getChallenge(w, r, id)
	case http.MethodDelete:
		h.deleteChallenge(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) getChallenge(w http.ResponseWriter, r *http.Request, id int64) {
	if !requireScope(w, r, auth.ScopeChallengesRead, auth.ScopeChallengesWrite) {
		return
	}

	challenge, err := h.challenges.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if challenge == nil {
		writeError(w, http.StatusNotFound, "not_found", "challenge not found")
		return
	}
	writeJSON(w, http.StatusOK, toChallengeView(*challenge))
}

func (h *Handler) deleteChallenge(w http.ResponseWriter, r *http.Request, id int64) {
	if !requireScope(w, r, auth.ScopeChallengesWrite) {
		return
	}

	if err := h.challenges.DeleteByID(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrChallengeNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "challenge not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return false
}

// LoginResponse carries the external authorization redirect URL.
type LoginResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

// AuthStatusResponse describes the credential state.
type AuthStatusResponse struct {
	State     string `json:"state"`
	AccountID int64  `json:"account_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// SyncResponse summarises one sync run.
type SyncResponse struct {
	PagesFetched int `json:"pages_fetched"`
	PagesFailed  int `json:"pages_failed"`
	Fetched      int `json:"fetched"`
	Inserted     int `json:"inserted"`
	Skipped      int `json:"skipped"`
}

// ActivityView exposes a stored activity.
type ActivityView struct {
	ID                 int64     `json:"id"`
	ExternalID         string    `json:"external_id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	DistanceMeters     float64   `json:"distance_meters"`
	MovingTimeSec      int       `json:"moving_time_sec"`
	ElapsedTimeSec     int       `json:"elapsed_time_sec"`
	StartDate          time.Time `json:"start_date"`
	EndTimeDisplay     string    `json:"end_time_display"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	AverageWatts       *float64  `json:"average_watts,omitempty"`
	AverageHeartrate   *float64  `json:"average_heartrate,omitempty"`
	MaxHeartrate       *float64  `json:"max_heartrate,omitempty"`
	Calories           *float64  `json:"calories,omitempty"`
	DeviceName         string    `json:"device_name,omitempty"`
	SummaryPolyline    string    `json:"summary_polyline,omitempty"`
	FullDetailFetched  bool      `json:"full_detail_fetched"`
}

// LocationView is a start or end coordinate.
type LocationView struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Role      string  `json:"role"`
}

// StreamView is one sample series of an activity.
type StreamView struct {
	Type         string    `json:"type"`
	Data         []float64 `json:"data"`
	SeriesType   string    `json:"series_type"`
	OriginalSize int       `json:"original_size"`
	Resolution   string    `json:"resolution"`
}

// ActivityDetailResponse is the enriched single-activity view.
type ActivityDetailResponse struct {
	ActivityView
	Locations []LocationView `json:"locations,omitempty"`
	Streams   []StreamView   `json:"streams,omitempty"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items []ActivityView `json:"items"`
}

// CreateChallengeRequest is the payload for POST /v1/challenges.
type CreateChallengeRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Goal        float64   `json:"goal"`
	Unit        string    `json:"unit"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Recurring   string    `json:"recurring,omitempty"`
}

var validUnits = map[domain.ChallengeUnit]struct{}{
	domain.UnitKilometers:   {},
	domain.UnitMiles:        {},
	domain.UnitHours:        {},
	domain.UnitMinutes:      {},
	domain.UnitMetersAscent: {},
	domain.UnitRides:        {},
	domain.UnitKcal:         {},
}

// Validate ensures request correctness.
func (r CreateChallengeRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if r.Goal <= 0 {
		return errors.New("goal must be > 0")
	}
	if _, ok := validUnits[domain.ChallengeUnit(r.Unit)]; !ok {
		return errors.New("unknown unit")
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return errors.New("start_date and end_date are required")
	}
	if r.EndDate.Before(r.StartDate) {
		return errors.New("end_date must not precede start_date")
	}
	switch domain.RecurrenceInterval(r.Recurring) {
	case "", domain.RecurWeekly, domain.RecurMonthly, domain.RecurYearly:
	default:
		return errors.New("unknown recurrence")
	}
	return nil
}

// CreateChallengeResponse describes the response body for create.
type CreateChallengeResponse struct {
	ChallengeID int64 `json:"challenge_id"`
}

// ChallengeView exposes a challenge with its derived progress.
type ChallengeView struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Goal            float64   `json:"goal"`
	CurrentProgress float64   `json:"current_progress"`
	Unit            string    `json:"unit"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	IsActive        bool      `json:"is_active"`
	IsCompleted     bool      `json:"is_completed"`
	Recurring       string    `json:"recurring,omitempty"`
}

// ListChallengesResponse packages list results.
type ListChallengesResponse struct {
	Items []ChallengeView `json:"items"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ID:                 a.ID,
		ExternalID:         a.ExternalID,
		Name:               a.Name,
		Description:        a.Description,
		Type:               a.Type,
		SportType:          a.SportType,
		DistanceMeters:     a.DistanceMeters,
		MovingTimeSec:      a.MovingTimeSec,
		ElapsedTimeSec:     a.ElapsedTimeSec,
		StartDate:          a.StartDate,
		EndTimeDisplay:     a.EndTimeDisplay,
		AverageSpeed:       a.AverageSpeed,
		MaxSpeed:           a.MaxSpeed,
		TotalElevationGain: a.TotalElevationGain,
		AverageWatts:       a.AverageWatts,
		AverageHeartrate:   a.AverageHeartrate,
		MaxHeartrate:       a.MaxHeartrate,
		Calories:           a.Calories,
		DeviceName:         a.DeviceName,
		SummaryPolyline:    a.SummaryPolyline,
		FullDetailFetched:  a.FullDetailFetched,
	}
}

func toChallengeView(c domain.Challenge) ChallengeView {
	return ChallengeView{
		ID:              c.ID,
		Name:            c.Name,
		Description:     c.Description,
		Goal:            c.Goal,
		CurrentProgress: c.CurrentProgress,
		Unit:            string(c.Unit),
		StartDate:       c.StartDate,
		EndDate:         c.EndDate,
		IsActive:        c.IsActive,
		IsCompleted:     c.IsCompleted,
		Recurring:       string(c.Recurring),
	}
}
