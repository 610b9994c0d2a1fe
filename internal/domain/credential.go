package domain

// AuthState tracks where the local session is in the external authorization
// flow. Transitions are monotonic except on failure, which resets to
// Unauthenticated.
type AuthState string

const (
	AuthStateUnauthenticated AuthState = "unauthenticated"
	AuthStateStarted         AuthState = "authorization_started"
	AuthStateFinished        AuthState = "authorization_finished"
	AuthStateAuthenticated   AuthState = "authenticated"
)

// Credential is the access/refresh token pair and its expiry metadata. It is
// owned exclusively by the token manager and is never partially written: all
// fields are replaced together on a successful exchange or refresh.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
	AccountID    int64  `json:"account_id"`
	Scope        string `json:"scope"`
}
