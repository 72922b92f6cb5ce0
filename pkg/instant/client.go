// Package instant is a client for the PSPDFKit web-examples backend. It creates
// new Instant collaboration sessions and resolves links to existing ones,
// returning the document identifier and access token needed to open the
// shared document.
//
// Every request completes asynchronously: the completion handler is called
// exactly once with either a document or a *Failure. Unless a CallbackQueue
// is configured the handler runs on a background goroutine.
package instant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
	"weak"

	jsoniter "github.com/json-iterator/go"
	"github.com/tansive/instant-example/internal/common/logtrace"
	"github.com/tansive/instant-example/pkg/docinfo"
)

const (
	// DefaultBaseURL is the web-examples backend.
	DefaultBaseURL = "https://web-examples.pspdfkit.com"

	// ExampleMediaType is requested when resolving an existing session URL.
	ExampleMediaType = "application/vnd.instant-example+json"

	landingPagePath = "/api/instant-landing-page"

	// The examples backend is protected by a shared demo login.
	defaultUser     = "username"
	defaultPassword = "password"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Result is the outcome of a session request. Exactly one of Document and Err is set.
type Result struct {
	Document *docinfo.DocumentInfo
	Err      error
}

// CompletionHandler receives the result of a session request.
type CompletionHandler func(Result)

// ClientOption is a function type for configuring client behavior.
type ClientOption func(*clientConfig)

type clientConfig struct {
	baseURL       string
	transport     Transport
	transportOpts TransportOptions
	callbacks     CallbackQueue
	credential    Credential
	presenter     func() any
}

// WithBaseURL points the client at a different backend, for example a local test server.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = baseURL
	}
}

// WithTransport replaces the default net/http transport.
func WithTransport(t Transport) ClientOption {
	return func(c *clientConfig) {
		c.transport = t
	}
}

// WithTimeout sets the overall timeout of each request on the default transport.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.transportOpts.Timeout = timeout
	}
}

// WithMaxChallengeAttempts bounds how many authentication challenges one
// request answers on the default transport.
func WithMaxChallengeAttempts(n int) ClientOption {
	return func(c *clientConfig) {
		c.transportOpts.MaxChallengeAttempts = n
	}
}

// WithRoundTripper sets the round tripper underneath the default transport.
func WithRoundTripper(rt http.RoundTripper) ClientOption {
	return func(c *clientConfig) {
		c.transportOpts.Base = rt
	}
}

// WithCallbackQueue delivers completion handlers through q.
func WithCallbackQueue(q CallbackQueue) ClientOption {
	return func(c *clientConfig) {
		c.callbacks = q
	}
}

// WithBasicCredential overrides the demo login offered for HTTP Basic challenges.
func WithBasicCredential(user, password string) ClientOption {
	return func(c *clientConfig) {
		c.credential = Credential{User: user, Password: password}
	}
}

// WithPresentationContext records p without keeping it alive. Once p is
// garbage collected, PresentationContext returns nil.
func WithPresentationContext[P any](p *P) ClientOption {
	return func(c *clientConfig) {
		if p == nil {
			c.presenter = nil
			return
		}
		ref := weak.Make(p)
		c.presenter = func() any {
			if v := ref.Value(); v != nil {
				return v
			}
			return nil
		}
	}
}

// Client talks to the web-examples backend. It is safe for concurrent use;
// each call is an independent request.
type Client struct {
	baseURL    *url.URL
	transport  Transport
	callbacks  CallbackQueue
	credential Credential
	presenter  func() any
}

var _ ChallengeHandler = (*Client)(nil)

// NewClient creates a Client. Without WithTransport it builds an HTTPTransport
// that routes authentication challenges to the client itself.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{
		baseURL:    DefaultBaseURL,
		credential: Credential{User: defaultUser, Password: defaultPassword},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(cfg.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute: %q", cfg.baseURL)
	}

	c := &Client{
		baseURL:    u,
		callbacks:  cfg.callbacks,
		credential: cfg.credential,
		presenter:  cfg.presenter,
	}
	c.transport = cfg.transport
	if c.transport == nil {
		c.transport = NewHTTPTransport(c, cfg.transportOpts)
	}
	return c, nil
}

// PresentationContext returns the value passed to WithPresentationContext, or
// nil if none was set or it has since been collected.
func (c *Client) PresentationContext() any {
	if c.presenter == nil {
		return nil
	}
	return c.presenter()
}

// CreateSession starts a new collaboration group.
func (c *Client) CreateSession(ctx context.Context, completion CompletionHandler) {
	u := c.baseURL.JoinPath(landingPagePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		go c.complete(completion, Result{Err: internalError(err)})
		return
	}
	c.execute(req, completion)
}

// ResolveSessionURL looks up an existing collaboration group from its shared
// URL. u must be an absolute URL; anything else panics.
func (c *Client) ResolveSessionURL(ctx context.Context, u *url.URL, completion CompletionHandler) {
	if u == nil || !u.IsAbs() {
		panic(fmt.Sprintf("instant: ResolveSessionURL requires an absolute URL, got %v", u))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		go c.complete(completion, Result{Err: internalError(err)})
		return
	}
	req.Header.Set("Accept", ExampleMediaType)
	c.execute(req, completion)
}

func (c *Client) execute(req *http.Request, completion CompletionHandler) {
	ctx := logtrace.WithRequestID(req.Context(), logtrace.NewRequestID())
	req = req.WithContext(ctx)
	logger := logtrace.Logger(ctx)

	logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Msg("submitting request")

	var once sync.Once
	c.transport.Submit(req, func(data []byte, resp *http.Response, err error) {
		delivered := false
		once.Do(func() {
			delivered = true
			result := classify(data, resp, err)
			var failure *Failure
			if errors.As(result.Err, &failure) {
				logger.Info().Err(result.Err).Stringer("kind", failure.Kind).Msg("request failed")
			} else {
				logger.Debug().Str("identifier", result.Document.Identifier).Msg("request succeeded")
			}
			c.complete(completion, result)
		})
		if !delivered {
			logger.Warn().Msg("transport reported a second completion; ignored")
		}
	})
}

func (c *Client) complete(completion CompletionHandler, result Result) {
	if c.callbacks != nil {
		c.callbacks.Dispatch(func() { completion(result) })
		return
	}
	completion(result)
}

// classify maps a transport outcome to a Result. Transport errors take
// precedence over any response, and only a 200 with a valid descriptor succeeds.
func classify(data []byte, resp *http.Response, err error) Result {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{Err: &Failure{Kind: KindCancelled}}
		}
		return Result{Err: internalError(err)}
	}
	if resp == nil {
		return Result{Err: internalError(nil)}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return Result{Err: internalError(nil)}
		}
		doc, ok := docinfo.New(v)
		if !ok {
			return Result{Err: internalError(nil)}
		}
		return Result{Document: doc}
	case http.StatusBadRequest:
		return Result{Err: &Failure{Kind: KindInvalidCode}}
	default:
		return Result{Err: internalError(nil)}
	}
}

// HandleChallenge offers the demo login for HTTP Basic challenges that do not
// already carry a password. Everything else gets default handling with the
// proposed credential passed through unchanged.
func (c *Client) HandleChallenge(_ context.Context, challenge *AuthChallenge, completion ChallengeCompletion) {
	if challenge.ProtectionSpace.AuthenticationMethod == AuthMethodHTTPBasic && !challenge.ProposedCredential.HasPassword() {
		c.basicCredential(func(cred *Credential) {
			if cred == nil {
				completion(CancelChallenge, nil)
				return
			}
			completion(UseCredential, cred)
		})
		return
	}
	completion(PerformDefaultHandling, challenge.ProposedCredential)
}

func (c *Client) basicCredential(completion func(*Credential)) {
	cred := c.credential
	cred.Persistence = PersistencePermanent
	completion(&cred)
}
