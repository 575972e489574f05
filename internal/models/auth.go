package models

// TokenKind classifies what a Token is allowed to do.
type TokenKind string

const (
	TokenKindUnknown    TokenKind = "UNKNOWN"
	TokenKindManagement TokenKind = "MANAGEMENT"
	TokenKindClient     TokenKind = "CLIENT"
	TokenKindBootstrap  TokenKind = "BOOTSTRAP"
)

// Token is a collaborator-interface entity: the HTTP API authenticates
// bearer tokens against the stored hash, never the raw secret.
type Token struct {
	ID         string            `json:"id"`
	Hash       string            `json:"-"`
	Kind       TokenKind         `json:"kind"`
	Namespaces []string          `json:"namespaces"`
	Metadata   map[string]string `json:"metadata"`
	Roles      []string          `json:"roles"`
	Created    int64             `json:"created"`
	Expires    int64             `json:"expires"`
	Disabled   bool              `json:"disabled"`
}

func NewToken(id, hash string, kind TokenKind, namespaces, roles []string, ttl int64) *Token {
	now := NowMilli()
	var expires int64
	if ttl > 0 {
		expires = now + ttl
	}
	return &Token{
		ID:         id,
		Hash:       hash,
		Kind:       kind,
		Namespaces: namespaces,
		Metadata:   map[string]string{},
		Roles:      roles,
		Created:    now,
		Expires:    expires,
		Disabled:   false,
	}
}

// Permission is a single (resource, action) allow-list entry.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// Role groups a set of permissions under a name referenced by Tokens.
type Role struct {
	ID          string       `json:"id"`
	Permissions []Permission `json:"permissions"`
}

// Allows reports whether the role grants the given (resource, action) pair.
// A "*" on either field matches any value.
func (r *Role) Allows(resource, action string) bool {
	for _, p := range r.Permissions {
		if (p.Resource == "*" || p.Resource == resource) && (p.Action == "*" || p.Action == action) {
			return true
		}
	}
	return false
}
