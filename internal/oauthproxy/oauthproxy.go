// Package oauthproxy wraps the MCP HTTP endpoint with a minimal OAuth2
// authorization server: dynamic client registration, an auto-approving
// authorization endpoint, and bearer token issuance. It exists so remote MCP
// clients that insist on OAuth can connect; it is not a general identity
// provider.
package oauthproxy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gandalf-gdac/erddap_sync/internal/logctx"
)

const (
	defaultCodeTTL  = 5 * time.Minute
	defaultTokenTTL = time.Hour

	scopeMCP = "mcp"
)

// Config holds provider configuration.
type Config struct {
	// Issuer is the externally visible base URL, e.g. "https://mcp.example.org".
	Issuer string
	// CodeTTL is how long an authorization code stays valid. Defaults to 5
	// minutes.
	CodeTTL time.Duration
	// TokenTTL is how long an access token stays valid. Defaults to 1 hour.
	TokenTTL time.Duration
}

type authCode struct {
	clientID            string
	redirectURI         string
	state               string
	codeChallenge       string
	codeChallengeMethod string
	createdAt           time.Time
}

type accessToken struct {
	clientID  string
	scope     string
	createdAt time.Time
}

// Provider issues and verifies OAuth2 tokens, everything held in memory.
// Restarting the process invalidates all sessions, which clients recover
// from by re-authorizing.
type Provider struct {
	cfg Config

	mu     sync.Mutex
	codes  map[string]*authCode
	tokens map[string]*accessToken

	now func() time.Time
}

// NewProvider creates a provider with the given configuration.
func NewProvider(cfg Config) *Provider {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = defaultCodeTTL
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}

	cfg.Issuer = strings.TrimRight(cfg.Issuer, "/")

	return &Provider{
		cfg:    cfg,
		codes:  map[string]*authCode{},
		tokens: map[string]*accessToken{},
		now:    time.Now,
	}
}

// Router builds the full HTTP surface: the OAuth endpoints, health and info
// pages, and the MCP endpoint guarded by the bearer middleware.
func (p *Provider) Router(mcpHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/.well-known/oauth-authorization-server", p.handleMetadata)
	r.Post("/oauth/register", p.handleRegister)
	r.Get("/oauth/authorize", p.handleAuthorize)
	r.Post("/oauth/token", p.handleToken)
	r.Get("/health", p.handleHealth)
	r.Get("/", p.handleRoot)

	r.Group(func(r chi.Router) {
		r.Use(p.Middleware)
		r.Handle("/mcp", mcpHandler)
		r.Post("/", mcpHandler.ServeHTTP)
	})

	return r
}

// Middleware verifies bearer tokens on protected endpoints. Requests without
// an Authorization header pass through untouched; a presented token must be
// valid.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if authz == "" {
			next.ServeHTTP(w, r)

			return
		}

		token, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok {
			oauthError(w, http.StatusUnauthorized, "invalid_token", "malformed authorization header")

			return
		}

		if err := p.verifyToken(token); err != nil {
			oauthError(w, http.StatusUnauthorized, "invalid_token", err.Error())

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (p *Provider) handleMetadata(w http.ResponseWriter, r *http.Request) {
	base := p.baseURL(r)

	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + "/oauth/authorize",
		"token_endpoint":                        base + "/oauth/token",
		"registration_endpoint":                 base + "/oauth/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"none"},
		"service_documentation":                 base,
	})
}

func (p *Provider) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientName   string   `json:"client_name"`
		RedirectURIs []string `json:"redirect_uris"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_client_metadata", "request body is not valid json")

		return
	}

	clientID := "client_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	resp := map[string]any{
		"client_id":                  clientID,
		"client_id_issued_at":        p.now().Unix(),
		"grant_types":                []string{"authorization_code"},
		"response_types":             []string{"code"},
		"redirect_uris":              body.RedirectURIs,
		"token_endpoint_auth_method": "none",
		"application_type":           "web",
	}

	if body.ClientName != "" {
		resp["client_name"] = body.ClientName
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")

	if clientID == "" || redirectURI == "" {
		oauthError(w, http.StatusBadRequest, "invalid_request", "client_id and redirect_uri are required")

		return
	}

	if rt := q.Get("response_type"); rt != "code" {
		oauthError(w, http.StatusBadRequest, "unsupported_response_type", "only the code response type is supported")

		return
	}

	code, err := randomToken()
	if err != nil {
		oauthError(w, http.StatusInternalServerError, "server_error", "failed to generate authorization code")

		return
	}

	p.mu.Lock()
	p.codes[code] = &authCode{
		clientID:            clientID,
		redirectURI:         redirectURI,
		state:               state,
		codeChallenge:       q.Get("code_challenge"),
		codeChallengeMethod: q.Get("code_challenge_method"),
		createdAt:           p.now(),
	}
	p.mu.Unlock()

	logger.Info("authorized oauth client", "client_id", clientID)

	params := url.Values{}
	params.Set("code", code)
	params.Set("state", state)

	redirectURL := redirectURI + "?" + params.Encode()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<html>
<head><title>Authorizing...</title></head>
<body>
<h2>Authorizing ERDDAP MCP access...</h2>
<p>Redirecting back to the client...</p>
<script>window.location.href = %q;</script>
</body>
</html>`, redirectURL)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", "failed to parse form")

		return
	}

	if grant := r.PostFormValue("grant_type"); grant != "authorization_code" {
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code is supported")

		return
	}

	code := r.PostFormValue("code")
	clientID := r.PostFormValue("client_id")
	verifier := r.PostFormValue("code_verifier")

	p.mu.Lock()
	session, ok := p.codes[code]
	if ok {
		delete(p.codes, code)
	}
	p.mu.Unlock()

	if !ok {
		oauthError(w, http.StatusBadRequest, "invalid_grant", "invalid authorization code")

		return
	}

	if p.now().Sub(session.createdAt) > p.cfg.CodeTTL {
		oauthError(w, http.StatusBadRequest, "invalid_grant", "authorization code expired")

		return
	}

	if session.clientID != clientID {
		oauthError(w, http.StatusBadRequest, "invalid_grant", "client_id mismatch")

		return
	}

	if session.codeChallenge != "" {
		if !verifyPKCE(session.codeChallenge, session.codeChallengeMethod, verifier) {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")

			return
		}
	}

	token, err := randomToken()
	if err != nil {
		oauthError(w, http.StatusInternalServerError, "server_error", "failed to generate access token")

		return
	}

	p.mu.Lock()
	p.tokens[token] = &accessToken{
		clientID:  clientID,
		scope:     scopeMCP,
		createdAt: p.now(),
	}
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(p.cfg.TokenTTL.Seconds()),
		"scope":        scopeMCP,
	})
}

func (p *Provider) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": p.now().UTC().Format(time.RFC3339),
		"service":   "erddap-mcp-server",
		"auth":      "oauth2",
	})
}

func (p *Provider) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<html>
<head><title>ERDDAP MCP Server</title></head>
<body>
<h1>ERDDAP MCP Server</h1>
<p>MCP tools for oceanographic data access through ERDDAP servers.</p>
<p>Transport: streamable-http. Auth: OAuth2.</p>
</body>
</html>`)
}

func (p *Provider) verifyToken(token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tokens[token]
	if !ok {
		return fmt.Errorf("unknown token")
	}

	if p.now().Sub(t.createdAt) > p.cfg.TokenTTL {
		delete(p.tokens, token)

		return fmt.Errorf("token expired")
	}

	return nil
}

func (p *Provider) baseURL(r *http.Request) string {
	if p.cfg.Issuer != "" {
		return p.cfg.Issuer
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return scheme + "://" + r.Host
}

// verifyPKCE checks an S256 code verifier against the stored challenge.
func verifyPKCE(challenge, method, verifier string) bool {
	if verifier == "" {
		return false
	}

	switch method {
	case "S256", "":
		sum := sha256.Sum256([]byte(verifier))

		return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
	default:
		return false
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func oauthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
