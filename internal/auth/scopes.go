package auth

// Known OAuth scopes used by the API.
const (
	ScopeRidesRead       = "rides:read"
	ScopeRidesWrite      = "rides:write"
	ScopeChallengesRead  = "challenges:read"
	ScopeChallengesWrite = "challenges:write"
)
