package auth

import (
	"net/http"
	"strings"

	"cdsmcp/internal/domain"
)

const opAuthenticate = "auth.authenticate"

// Principal is the verified caller of a request. An empty Subject means
// authentication is disabled.
type Principal struct {
	Subject string
}

// Authenticator is the token-verification boundary in front of the
// protocol endpoint.
type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

// New returns the authenticator for mode.
func New(mode domain.AuthMode, verifier TokenVerifier) (Authenticator, error) {
	switch mode {
	case domain.AuthModeNone, "":
		return Anonymous{}, nil
	case domain.AuthModeInherit:
		if verifier == nil {
			return nil, domain.E(domain.CodeConfiguration, "auth", "auth mode inherit requires a token verifier", domain.ErrConfiguration)
		}
		return &Bearer{verifier: verifier}, nil
	default:
		return nil, domain.E(domain.CodeConfiguration, "auth", "unknown auth mode "+string(mode), domain.ErrConfiguration)
	}
}

// Anonymous accepts every request.
type Anonymous struct{}

func (Anonymous) Authenticate(*http.Request) (Principal, error) {
	return Principal{}, nil
}

// Bearer verifies the Authorization: Bearer token of each request.
type Bearer struct {
	verifier TokenVerifier
}

func NewBearer(verifier TokenVerifier) *Bearer {
	return &Bearer{verifier: verifier}
}

func (b *Bearer) Authenticate(r *http.Request) (Principal, error) {
	token, reason := extractBearerToken(r.Header.Get("Authorization"))
	if reason != "" {
		return Principal{}, domain.E(domain.CodeUnauthenticated, opAuthenticate, reason, domain.ErrUnauthorized)
	}
	subject, err := b.verifier.Verify(token)
	if err != nil {
		return Principal{}, domain.E(domain.CodeUnauthenticated, opAuthenticate, err.Error(), domain.ErrUnauthorized)
	}
	return Principal{Subject: subject}, nil
}

// extractBearerToken returns the token, or a reason it could not be read.
func extractBearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
