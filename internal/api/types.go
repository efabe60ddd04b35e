package api

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultTriggerTimeout is the overall budget for one OAuth attempt.
// Interactive flows routinely take minutes: the user has to notice the
// prompt, open the browser and complete the provider's consent screen.
const DefaultTriggerTimeout = 5 * time.Minute

// LaunchSpec describes how to start an MCP server process for one
// connection attempt. It is built by the embedding layer from a stored
// server configuration and consumed once per TriggerOAuth call.
type LaunchSpec struct {
	// ServerName is the human identifier, used for directory scoping
	// and as the process registry key.
	ServerName string

	// ServerUUID is an optional stable identifier. When set, the
	// process gets an isolated credential directory under the package
	// store root. When empty, the legacy shared auth directory is used.
	ServerUUID string

	// Command and Args form the launch command line.
	Command string
	Args    []string

	// Env holds additional environment variables merged over the
	// ambient process environment.
	Env map[string]string

	// Timeout bounds the whole attempt. Zero means DefaultTriggerTimeout.
	Timeout time.Duration

	// CallbackPort, when nonzero, is exported to the child process so
	// its OAuth library binds its redirect listener to a known port.
	CallbackPort int
}

// TokenType identifies how a captured credential should be presented.
type TokenType string

const (
	TokenTypeBearer TokenType = "bearer"
	TokenTypeOAuth  TokenType = "oauth"
)

// TokenMetadata carries optional provider details alongside a token.
type TokenMetadata struct {
	Provider     string    `json:"provider,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

// TokenRecord is the normalized result of one OAuth attempt. Exactly one
// of the three terminal shapes holds: a token with Success=true, an
// OAuthURL with Success=false (user action required), or an Error with
// Success=false. Use the constructors to keep that invariant.
type TokenRecord struct {
	Success   bool           `json:"success"`
	Token     string         `json:"token,omitempty"`
	TokenType TokenType      `json:"tokenType,omitempty"`
	Error     string         `json:"error,omitempty"`
	OAuthURL  string         `json:"oauthUrl,omitempty"`
	Metadata  *TokenMetadata `json:"metadata,omitempty"`
}

// TokenResult returns a successful record carrying a captured token.
func TokenResult(token string, tokenType TokenType) *TokenRecord {
	return &TokenRecord{Success: true, Token: token, TokenType: tokenType}
}

// AuthURLResult returns a user-action-required record. This is the
// expected first-connection path, not a failure of the subsystem.
func AuthURLResult(url string) *TokenRecord {
	return &TokenRecord{Success: false, OAuthURL: url}
}

// ErrorResult returns a failed record with a caller-facing message.
func ErrorResult(message string) *TokenRecord {
	return &TokenRecord{Success: false, Error: message}
}

// NeedsUserAction reports whether the record asks the end user to visit
// an authorization URL.
func (r *TokenRecord) NeedsUserAction() bool {
	return !r.Success && r.OAuthURL != ""
}

// AsOAuth2Token converts a successful record into an *oauth2.Token for
// callers that feed the credential into an HTTP client. Returns nil for
// non-success records.
func (r *TokenRecord) AsOAuth2Token() *oauth2.Token {
	if !r.Success || r.Token == "" {
		return nil
	}
	tok := &oauth2.Token{
		AccessToken: r.Token,
		TokenType:   "Bearer",
	}
	if r.Metadata != nil {
		tok.RefreshToken = r.Metadata.RefreshToken
		tok.Expiry = r.Metadata.ExpiresAt
	}
	return tok
}
