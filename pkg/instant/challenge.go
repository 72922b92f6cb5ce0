package instant

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// AuthenticationMethod is the scheme named in a WWW-Authenticate challenge.
type AuthenticationMethod string

const (
	// AuthMethodHTTPBasic is RFC 7617 Basic authentication.
	AuthMethodHTTPBasic AuthenticationMethod = "Basic"
	// AuthMethodHTTPDigest is RFC 7616 Digest authentication.
	AuthMethodHTTPDigest AuthenticationMethod = "Digest"
	// AuthMethodBearer is RFC 6750 bearer token authentication.
	AuthMethodBearer AuthenticationMethod = "Bearer"
)

// ProtectionSpace identifies the server area a credential applies to.
type ProtectionSpace struct {
	Origin               string // scheme://host:port
	Realm                string
	AuthenticationMethod AuthenticationMethod
}

// Persistence controls how long a supplied credential is kept.
type Persistence int

const (
	// PersistenceNone uses the credential for the current request only.
	PersistenceNone Persistence = iota
	// PersistenceForSession keeps the credential for the lifetime of the client.
	PersistenceForSession
	// PersistencePermanent keeps the credential for the lifetime of the client.
	// Credentials are never written to disk.
	PersistencePermanent
)

// Credential is a user name and password pair.
type Credential struct {
	User        string
	Password    string
	Persistence Persistence
}

// HasPassword reports whether c is non-nil and carries a password.
func (c *Credential) HasPassword() bool {
	return c != nil && c.Password != ""
}

// AuthChallenge describes a server request for authentication received while
// a request was in flight.
type AuthChallenge struct {
	ProtectionSpace      ProtectionSpace
	ProposedCredential   *Credential    // stored or previously tried credential, may be nil
	PreviousFailureCount int            // credentials already rejected for this request
	FailureResponse      *http.Response // the 401 response; its body is not readable
}

// Disposition tells the transport how to continue after a challenge.
type Disposition int

const (
	// UseCredential replays the request with the supplied credential.
	UseCredential Disposition = iota
	// PerformDefaultHandling lets the transport decide, as if no handler were installed.
	PerformDefaultHandling
	// CancelChallenge aborts the request; it fails as cancelled.
	CancelChallenge
	// RejectProtectionSpace declines this challenge; the 401 response is returned.
	RejectProtectionSpace
)

func (d Disposition) String() string {
	switch d {
	case UseCredential:
		return "use_credential"
	case PerformDefaultHandling:
		return "perform_default_handling"
	case CancelChallenge:
		return "cancel_challenge"
	case RejectProtectionSpace:
		return "reject_protection_space"
	default:
		return "unknown"
	}
}

// ChallengeCompletion receives the handler's decision. Only the first call is honored.
type ChallengeCompletion func(Disposition, *Credential)

// ChallengeHandler resolves authentication challenges on behalf of a transport.
// HandleChallenge may call completion before returning or later from another
// goroutine; the request waits until completion is called or ctx is done.
type ChallengeHandler interface {
	HandleChallenge(ctx context.Context, challenge *AuthChallenge, completion ChallengeCompletion)
}

// ChallengeHandlerFunc adapts a function to ChallengeHandler.
type ChallengeHandlerFunc func(ctx context.Context, challenge *AuthChallenge, completion ChallengeCompletion)

func (f ChallengeHandlerFunc) HandleChallenge(ctx context.Context, challenge *AuthChallenge, completion ChallengeCompletion) {
	f(ctx, challenge, completion)
}

// parseProtectionSpace extracts the protection space from the WWW-Authenticate
// headers of a 401 response. Basic is preferred when the server offers several
// schemes.
func parseProtectionSpace(u *url.URL, header http.Header) (ProtectionSpace, bool) {
	var spaces []ProtectionSpace
	for _, value := range header.Values("WWW-Authenticate") {
		scheme, params, _ := strings.Cut(strings.TrimSpace(value), " ")
		if scheme == "" {
			continue
		}
		spaces = append(spaces, ProtectionSpace{
			Origin:               origin(u),
			Realm:                authParam(params, "realm"),
			AuthenticationMethod: canonicalMethod(scheme),
		})
	}
	if len(spaces) == 0 {
		return ProtectionSpace{}, false
	}
	for _, s := range spaces {
		if s.AuthenticationMethod == AuthMethodHTTPBasic {
			return s, true
		}
	}
	return spaces[0], true
}

func canonicalMethod(scheme string) AuthenticationMethod {
	for _, m := range []AuthenticationMethod{AuthMethodHTTPBasic, AuthMethodHTTPDigest, AuthMethodBearer} {
		if strings.EqualFold(scheme, string(m)) {
			return m
		}
	}
	return AuthenticationMethod(scheme)
}

// authParam returns the value of name in an auth-param list such as
// `realm="example", charset="UTF-8"`.
func authParam(params, name string) string {
	for _, p := range strings.Split(params, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), name) {
			continue
		}
		return strings.Trim(strings.TrimSpace(v), `"`)
	}
	return ""
}

func origin(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		case "http":
			port = "80"
		}
	}
	return u.Scheme + "://" + u.Hostname() + ":" + port
}
