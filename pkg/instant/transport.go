package instant

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tansive/instant-example/internal/common/logtrace"
)

// DefaultMaxChallengeAttempts bounds how many authentication challenges a
// single request answers before the 401 response is handed back.
const DefaultMaxChallengeAttempts = 3

// maxResponseBytes caps how much of a response body is read into memory.
const maxResponseBytes = 1 << 20

// ErrChallengeCancelled is returned when a ChallengeHandler cancels a challenge.
// It matches context.Canceled.
var ErrChallengeCancelled = fmt.Errorf("authentication challenge cancelled: %w", context.Canceled)

// TransportCompletion receives the outcome of a submitted request. data is the
// response body when resp is non-nil and err is nil.
type TransportCompletion func(data []byte, resp *http.Response, err error)

// Transport executes requests asynchronously. Submit returns immediately and
// calls completion exactly once, on a goroutine of the transport's choosing.
type Transport interface {
	Submit(req *http.Request, completion TransportCompletion)
}

// TransportOptions configures an HTTPTransport.
type TransportOptions struct {
	Timeout              time.Duration      // overall request timeout, zero means none
	MaxChallengeAttempts int                // defaults to DefaultMaxChallengeAttempts
	Base                 http.RoundTripper  // defaults to a clone of http.DefaultTransport
	Credentials          *CredentialStorage // defaults to a new storage
}

// HTTPTransport is the net/http backed Transport. The underlying http.Client
// is created once and shared by every request.
type HTTPTransport struct {
	client *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport that routes authentication challenges to handler.
// A nil handler gets default handling for every challenge.
func NewHTTPTransport(handler ChallengeHandler, opts TransportOptions) *HTTPTransport {
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	credentials := opts.Credentials
	if credentials == nil {
		credentials = NewCredentialStorage()
	}
	maxAttempts := opts.MaxChallengeAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxChallengeAttempts
	}

	return &HTTPTransport{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &challengeTransport{
				base:        base,
				handler:     handler,
				credentials: credentials,
				maxAttempts: maxAttempts,
			},
		},
	}
}

// Submit runs req on a new goroutine and reports the result to completion.
func (t *HTTPTransport) Submit(req *http.Request, completion TransportCompletion) {
	go func() {
		completion(t.do(req))
	}()
}

func (t *HTTPTransport) do(req *http.Request) ([]byte, *http.Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, resp, fmt.Errorf("reading response body: %w", err)
	}
	if len(data) > maxResponseBytes {
		return nil, resp, fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)
	}
	return data, resp, nil
}

// challengeTransport answers 401 responses that carry a WWW-Authenticate
// challenge by consulting a ChallengeHandler and replaying the request.
type challengeTransport struct {
	base        http.RoundTripper
	handler     ChallengeHandler
	credentials *CredentialStorage
	maxAttempts int
}

func (t *challengeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	logger := logtrace.Logger(ctx)

	var (
		applied  *Credential
		failures int
	)
	for attempt := 0; ; attempt++ {
		out, err := withCredential(req, applied)
		if err != nil {
			return nil, err
		}
		resp, err := t.base.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		space, ok := parseProtectionSpace(req.URL, resp.Header)
		if !ok {
			return resp, nil
		}
		if applied != nil {
			failures++
			t.credentials.Remove(space)
		}
		if attempt >= t.maxAttempts || !replayable(req) {
			logger.Warn().
				Str("origin", space.Origin).
				Str("realm", space.Realm).
				Int("attempts", attempt).
				Msg("giving up on authentication challenge")
			return resp, nil
		}

		proposed := applied
		if proposed == nil {
			proposed = t.credentials.Credential(space)
		}
		challenge := &AuthChallenge{
			ProtectionSpace:      space,
			ProposedCredential:   proposed,
			PreviousFailureCount: failures,
			FailureResponse:      resp,
		}
		disposition, cred, err := t.resolve(ctx, challenge)
		if err != nil {
			drainAndClose(resp)
			return nil, err
		}
		logger.Debug().
			Str("method", string(space.AuthenticationMethod)).
			Str("realm", space.Realm).
			Stringer("disposition", disposition).
			Int("previous_failures", failures).
			Msg("authentication challenge resolved")

		var next *Credential
		switch disposition {
		case UseCredential:
			next = cred
		case PerformDefaultHandling:
			if proposed.HasPassword() && failures == 0 {
				next = proposed
			}
		case CancelChallenge:
			drainAndClose(resp)
			return nil, ErrChallengeCancelled
		}
		if next == nil {
			return resp, nil
		}

		t.credentials.Store(space, next)
		drainAndClose(resp)
		applied = next
	}
}

// resolve hands the challenge to the handler and waits for its decision.
func (t *challengeTransport) resolve(ctx context.Context, challenge *AuthChallenge) (Disposition, *Credential, error) {
	if t.handler == nil {
		return PerformDefaultHandling, challenge.ProposedCredential, nil
	}

	type decision struct {
		disposition Disposition
		credential  *Credential
	}
	decided := make(chan decision, 1)
	var once sync.Once
	t.handler.HandleChallenge(ctx, challenge, func(d Disposition, c *Credential) {
		once.Do(func() {
			decided <- decision{disposition: d, credential: c}
		})
	})

	select {
	case d := <-decided:
		return d.disposition, d.credential, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func withCredential(req *http.Request, cred *Credential) (*http.Request, error) {
	if cred == nil {
		return req, nil
	}
	out := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		out.Body = body
	}
	out.SetBasicAuth(cred.User, cred.Password)
	return out, nil
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
