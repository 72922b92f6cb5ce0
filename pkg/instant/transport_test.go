package instant

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tansive/instant-example/internal/backendtest"
)

func TestParseProtectionSpace(t *testing.T) {
	u := mustParseURL(t, "https://web-examples.pspdfkit.com/instant/abc")

	tests := []struct {
		name    string
		headers []string
		want    ProtectionSpace
		wantOK  bool
	}{
		{
			name:    "basic with realm",
			headers: []string{`Basic realm="web-examples", charset="UTF-8"`},
			want:    ProtectionSpace{Origin: "https://web-examples.pspdfkit.com:443", Realm: "web-examples", AuthenticationMethod: AuthMethodHTTPBasic},
			wantOK:  true,
		},
		{
			name:    "scheme is case insensitive",
			headers: []string{`basic realm=demo`},
			want:    ProtectionSpace{Origin: "https://web-examples.pspdfkit.com:443", Realm: "demo", AuthenticationMethod: AuthMethodHTTPBasic},
			wantOK:  true,
		},
		{
			name:    "basic preferred over digest",
			headers: []string{`Digest realm="d", nonce="n"`, `Basic realm="b"`},
			want:    ProtectionSpace{Origin: "https://web-examples.pspdfkit.com:443", Realm: "b", AuthenticationMethod: AuthMethodHTTPBasic},
			wantOK:  true,
		},
		{
			name:    "unknown scheme is kept",
			headers: []string{`Negotiate`},
			want:    ProtectionSpace{Origin: "https://web-examples.pspdfkit.com:443", AuthenticationMethod: "Negotiate"},
			wantOK:  true,
		},
		{name: "no challenge"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for _, v := range tt.headers {
				h.Add("WWW-Authenticate", v)
			}
			got, ok := parseProtectionSpace(u, h)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "http://localhost:8080", origin(mustParseURL(t, "http://localhost:8080/x")))
	assert.Equal(t, "http://localhost:80", origin(mustParseURL(t, "http://localhost/x")))
}

func TestCredentialStorage(t *testing.T) {
	s := NewCredentialStorage()
	space := ProtectionSpace{Origin: "https://example.com:443", Realm: "r", AuthenticationMethod: AuthMethodHTTPBasic}

	s.Store(space, &Credential{User: "once", Password: "p", Persistence: PersistenceNone})
	assert.Nil(t, s.Credential(space))

	s.Store(space, &Credential{User: "kept", Password: "p", Persistence: PersistencePermanent})
	got := s.Credential(space)
	require.NotNil(t, got)
	assert.Equal(t, "kept", got.User)

	got.User = "mutated"
	assert.Equal(t, "kept", s.Credential(space).User)

	s.Remove(space)
	assert.Nil(t, s.Credential(space))
}

func newBackendClient(t *testing.T, backend *backendtest.Server, opts ...ClientOption) *Client {
	t.Helper()
	c, err := NewClient(append([]ClientOption{WithBaseURL(backend.URL), WithTimeout(5 * time.Second)}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestCreateAndResolveAgainstBackend(t *testing.T) {
	backend := backendtest.New(backendtest.Options{})
	defer backend.Close()
	c := newBackendClient(t, backend)

	created := await(t, func(done CompletionHandler) { c.CreateSession(context.Background(), done) })
	require.NoError(t, created.Err)
	require.NotEmpty(t, created.Document.Identifier)
	assert.Equal(t, backend.SessionURL(created.Document.Identifier), created.Document.URL)
	exp, ok := created.Document.ExpiresAt()
	require.True(t, ok)
	assert.True(t, exp.After(time.Now()))

	resolved := await(t, func(done CompletionHandler) {
		c.ResolveSessionURL(context.Background(), mustParseURL(t, created.Document.URL), done)
	})
	require.NoError(t, resolved.Err)
	assert.Equal(t, created.Document, resolved.Document)

	unknown := await(t, func(done CompletionHandler) {
		c.ResolveSessionURL(context.Background(), mustParseURL(t, backend.SessionURL("does-not-exist")), done)
	})
	assert.ErrorIs(t, unknown.Err, ErrInvalidCode)
	assert.Equal(t, 0, backend.Challenges())
}

func TestBasicChallengeUsesDemoCredential(t *testing.T) {
	backend := backendtest.New(backendtest.Options{User: "username", Password: "password"})
	defer backend.Close()
	c := newBackendClient(t, backend)

	created := await(t, func(done CompletionHandler) { c.CreateSession(context.Background(), done) })
	require.NoError(t, created.Err)
	assert.Equal(t, 1, backend.Challenges())
	assert.Equal(t, 1, backend.Creates())

	// The stored credential answers the next challenge without asking again.
	resolved := await(t, func(done CompletionHandler) {
		c.ResolveSessionURL(context.Background(), mustParseURL(t, created.Document.URL), done)
	})
	require.NoError(t, resolved.Err)
	assert.Equal(t, 2, backend.Challenges())
	assert.Equal(t, 1, backend.Resolves())
}

func TestRejectedCredentialIsNotRetriedForever(t *testing.T) {
	backend := backendtest.New(backendtest.Options{User: "someone-else", Password: "other"})
	defer backend.Close()

	var handled atomic.Int32
	c := newBackendClient(t, backend)
	handler := ChallengeHandlerFunc(func(ctx context.Context, ch *AuthChallenge, completion ChallengeCompletion) {
		handled.Add(1)
		c.HandleChallenge(ctx, ch, completion)
	})
	c.transport = NewHTTPTransport(handler, TransportOptions{Timeout: 5 * time.Second})

	result := await(t, func(done CompletionHandler) { c.CreateSession(context.Background(), done) })
	assert.ErrorIs(t, result.Err, ErrInternal)
	assert.Nil(t, errors.Unwrap(result.Err))
	// First challenge supplies the demo login, the second sees it already
	// proposed and failed, so default handling returns the 401.
	assert.Equal(t, int32(2), handled.Load())
	assert.Equal(t, 2, backend.Challenges())
	assert.Equal(t, 0, backend.Creates())
}

func TestMaxChallengeAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("WWW-Authenticate", `Basic realm="loop"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	// A handler that always offers a fresh credential would loop without a bound.
	stubborn := ChallengeHandlerFunc(func(_ context.Context, _ *AuthChallenge, completion ChallengeCompletion) {
		completion(UseCredential, &Credential{User: "u", Password: "p"})
	})
	c, err := NewClient(WithBaseURL(srv.URL), WithTransport(NewHTTPTransport(stubborn, TransportOptions{MaxChallengeAttempts: 2})))
	require.NoError(t, err)

	result := await(t, func(done CompletionHandler) { c.CreateSession(context.Background(), done) })
	assert.ErrorIs(t, result.Err, ErrInternal)
	assert.Equal(t, int32(3), hits.Load())
}

func TestChallengeDispositions(t *testing.T) {
	var sawAuth atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			sawAuth.Store(true)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"identifier":"abc","token":"xyz"}`))
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="r"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	run := func(t *testing.T, handler ChallengeHandler) Result {
		t.Helper()
		sawAuth.Store(false)
		c, err := NewClient(WithBaseURL(srv.URL), WithTransport(NewHTTPTransport(handler, TransportOptions{})))
		require.NoError(t, err)
		return await(t, func(done CompletionHandler) { c.CreateSession(context.Background(), done) })
	}

	t.Run("cancel", func(t *testing.T) {
		result := run(t, ChallengeHandlerFunc(func(_ context.Context, _ *AuthChallenge, completion ChallengeCompletion) {
			completion(CancelChallenge, nil)
		}))
		assert.ErrorIs(t, result.Err, ErrCancelled)
		assert.False(t, sawAuth.Load())
	})

	t.Run("reject protection space", func(t *testing.T) {
		result := run(t, ChallengeHandlerFunc(func(_ context.Context, _ *AuthChallenge, completion ChallengeCompletion) {
			completion(RejectProtectionSpace, nil)
		}))
		assert.ErrorIs(t, result.Err, ErrInternal)
		assert.False(t, sawAuth.Load())
	})

	t.Run("default handling without proposal", func(t *testing.T) {
		result := run(t, nil)
		assert.ErrorIs(t, result.Err, ErrInternal)
		assert.False(t, sawAuth.Load())
	})

	t.Run("asynchronous completion", func(t *testing.T) {
		result := run(t, ChallengeHandlerFunc(func(_ context.Context, ch *AuthChallenge, completion ChallengeCompletion) {
			assert.Equal(t, "r", ch.ProtectionSpace.Realm)
			assert.Equal(t, 0, ch.PreviousFailureCount)
			go func() {
				time.Sleep(10 * time.Millisecond)
				completion(UseCredential, &Credential{User: "u", Password: "p", Persistence: PersistenceNone})
				completion(CancelChallenge, nil)
			}()
		}))
		require.NoError(t, result.Err)
		assert.True(t, sawAuth.Load())
	})

	t.Run("context cancelled while waiting for handler", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		c, err := NewClient(WithBaseURL(srv.URL), WithTransport(NewHTTPTransport(
			ChallengeHandlerFunc(func(context.Context, *AuthChallenge, ChallengeCompletion) { cancel() }),
			TransportOptions{},
		)))
		require.NoError(t, err)
		result := await(t, func(done CompletionHandler) { c.CreateSession(ctx, done) })
		assert.ErrorIs(t, result.Err, ErrCancelled)
	})
}

func TestRequestBodyReplay(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		if _, _, ok := r.BasicAuth(); !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="r"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	seen := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), bodies...)
	}

	handler := ChallengeHandlerFunc(func(_ context.Context, _ *AuthChallenge, completion ChallengeCompletion) {
		completion(UseCredential, &Credential{User: "u", Password: "p"})
	})
	client := NewHTTPTransport(handler, TransportOptions{}).client

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("payload"))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"payload", "payload"}, seen())

	// Without GetBody the request cannot be replayed and the 401 is returned.
	mu.Lock()
	bodies = nil
	mu.Unlock()
	req, err = http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("once"))
	require.NoError(t, err)
	req.GetBody = nil
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, []string{"once"}, seen())
}

func TestContextCancellationAgainstBackend(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(WithBaseURL(srv.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	result := await(t, func(done CompletionHandler) {
		c.ResolveSessionURL(ctx, mustParseURL(t, srv.URL+"/instant/abc"), done)
		time.Sleep(20 * time.Millisecond)
		cancel()
	})
	assert.ErrorIs(t, result.Err, ErrCancelled)
	assert.Nil(t, result.Document)
}

func TestTimeoutIsInternalError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(WithBaseURL(srv.URL), WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	result := await(t, func(done CompletionHandler) { c.CreateSession(context.Background(), done) })
	assert.ErrorIs(t, result.Err, ErrInternal)
	var uerr *url.Error
	assert.ErrorAs(t, result.Err, &uerr)
}

func TestRejectedStoredCredentialIsForgotten(t *testing.T) {
	backend := backendtest.New(backendtest.Options{User: "username", Password: "password", Realm: "examples"})
	defer backend.Close()

	space := ProtectionSpace{
		Origin:               origin(mustParseURL(t, backend.URL)),
		Realm:                "examples",
		AuthenticationMethod: AuthMethodHTTPBasic,
	}
	storage := NewCredentialStorage()
	storage.Store(space, &Credential{User: "stale", Password: "expired", Persistence: PersistencePermanent})

	c := newBackendClient(t, backend)
	c.transport = NewHTTPTransport(c, TransportOptions{Timeout: 5 * time.Second, Credentials: storage})

	first := await(t, func(done CompletionHandler) { c.CreateSession(context.Background(), done) })
	assert.ErrorIs(t, first.Err, ErrInternal)
	assert.Nil(t, storage.Credential(space))

	second := await(t, func(done CompletionHandler) { c.CreateSession(context.Background(), done) })
	require.NoError(t, second.Err)
	assert.Equal(t, 1, backend.Creates())
	require.NotNil(t, storage.Credential(space))
	assert.Equal(t, "username", storage.Credential(space).User)
}

func TestOversizedResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("x", maxResponseBytes+10)))
	}))
	defer srv.Close()

	c, err := NewClient(WithBaseURL(srv.URL), WithTimeout(5*time.Second))
	require.NoError(t, err)

	result := await(t, func(done CompletionHandler) { c.CreateSession(context.Background(), done) })
	assert.ErrorIs(t, result.Err, ErrInternal)
	cause := errors.Unwrap(result.Err)
	require.Error(t, cause)
	assert.Contains(t, cause.Error(), "exceeds")
}
