// Package backendtest runs an in-process stand-in for the web-examples backend
// so the client can be exercised end to end without network access.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tansive/instant-example/pkg/docinfo"
)

// MediaType is the vendor type the resolve endpoint serves.
const MediaType = "application/vnd.instant-example+json"

var exampleMediaTypes = []contenttype.MediaType{contenttype.NewMediaType(MediaType)}

var signingKey = []byte("backendtest-signing-key")

// Options configures the fake backend.
type Options struct {
	// User and Password enable HTTP Basic protection when User is non-empty.
	User     string
	Password string
	Realm    string
	// TokenTTL sets the exp claim of issued tokens. Defaults to one hour.
	TokenTTL time.Duration
}

// Server is a running fake backend. Close it when done.
type Server struct {
	*httptest.Server
	Router *chi.Mux

	opts Options

	mu       sync.Mutex
	sessions map[string]docinfo.DocumentInfo

	challenges atomic.Int64
	creates    atomic.Int64
	resolves   atomic.Int64
}

// New starts a fake backend on a loopback listener.
func New(opts Options) *Server {
	if opts.Realm == "" {
		opts.Realm = "web-examples"
	}
	if opts.TokenTTL == 0 {
		opts.TokenTTL = time.Hour
	}
	s := &Server{
		Router:   chi.NewRouter(),
		opts:     opts,
		sessions: make(map[string]docinfo.DocumentInfo),
	}
	s.mountHandlers()
	s.Server = httptest.NewServer(s.Router)
	return s
}

func (s *Server) mountHandlers() {
	s.Router.Use(requestLogger)
	s.Router.Use(s.basicAuth)
	s.Router.Post("/api/instant-landing-page", s.createSession)
	s.Router.Get("/instant/{code}", s.resolveSession)
}

// SessionURL returns the shareable URL for code.
func (s *Server) SessionURL(code string) string {
	return s.URL + "/instant/" + code
}

// Challenges returns how many 401 challenges were sent.
func (s *Server) Challenges() int { return int(s.challenges.Load()) }

// Creates returns how many sessions were created.
func (s *Server) Creates() int { return int(s.creates.Load()) }

// Resolves returns how many resolve requests passed authentication.
func (s *Server) Resolves() int { return int(s.resolves.Load()) }

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.User == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, password, ok := r.BasicAuth()
		if !ok || user != s.opts.User || password != s.opts.Password {
			s.challenges.Add(1)
			w.Header().Set("WWW-Authenticate", `Basic realm="`+s.opts.Realm+`"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	s.creates.Add(1)
	code := uuid.NewString()
	info, err := s.issue(code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.sessions[code] = info
	s.mu.Unlock()

	writeJSON(w, "application/json", info)
}

func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request) {
	s.resolves.Add(1)
	if _, _, err := contenttype.GetAcceptableMediaType(r, exampleMediaTypes); err != nil {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return
	}

	code := chi.URLParam(r, "code")
	s.mu.Lock()
	info, ok := s.sessions[code]
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":"invalid code"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, MediaType, info)
}

func (s *Server) issue(code string) (docinfo.DocumentInfo, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"document_id": code,
		"exp":         time.Now().Add(s.opts.TokenTTL).Unix(),
	}).SignedString(signingKey)
	if err != nil {
		return docinfo.DocumentInfo{}, err
	}
	return docinfo.DocumentInfo{
		Identifier: code,
		Token:      token,
		ServerURL:  s.URL + "/",
		URL:        s.SessionURL(code),
	}, nil
}

func writeJSON(w http.ResponseWriter, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
