package auth

// Known OAuth scopes used by the access endpoints.
const (
	ScopeCheckin = "access:checkin"
	ScopeRead    = "access:read"
)
