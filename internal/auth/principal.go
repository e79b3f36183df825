package auth

// Role identifies which side of the marketplace an actor belongs to.
type Role string

const (
	RoleAdvertiser Role = "advertiser"
	RolePublisher  Role = "publisher"
)

// Principal is the authenticated actor behind a request. The upstream
// gateway performs authentication; this service only ever sees the resolved
// identity and authorizes actions against it. Handlers build a Principal from
// the request and pass it explicitly into every service call, so
// authorization guards are pure functions of (principal, order).
type Principal struct {
	UserID string
	Role   Role
}

// Valid reports whether the principal carries a usable identity.
func (p Principal) Valid() bool {
	return p.UserID != "" && (p.Role == RoleAdvertiser || p.Role == RolePublisher)
}
