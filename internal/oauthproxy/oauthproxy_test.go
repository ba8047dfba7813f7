package oauthproxy

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var redirectPattern = regexp.MustCompile(`window\.location\.href = "([^"]+)"`)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("mcp ok"))
	})
}

func authorizeAndGetCode(t *testing.T, router http.Handler, clientID, challenge string) string {
	t.Helper()

	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", "https://client.example/callback")
	q.Set("state", "xyz")
	q.Set("response_type", "code")

	if challenge != "" {
		q.Set("code_challenge", challenge)
		q.Set("code_challenge_method", "S256")
	}

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	match := redirectPattern.FindStringSubmatch(rec.Body.String())
	require.NotNil(t, match, "authorize response carries no redirect")

	redirectURL, err := url.Parse(match[1])
	require.NoError(t, err)
	assert.Equal(t, "xyz", redirectURL.Query().Get("state"))

	code := redirectURL.Query().Get("code")
	require.NotEmpty(t, code)

	return code
}

func exchangeCode(t *testing.T, router http.Handler, code, clientID, verifier string) *httptest.ResponseRecorder {
	t.Helper()

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", clientID)

	if verifier != "" {
		form.Set("code_verifier", verifier)
	}

	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func TestMetadata(t *testing.T) {
	p := NewProvider(Config{Issuer: "https://mcp.example.org"})
	router := p.Router(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var meta map[string]any

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "https://mcp.example.org", meta["issuer"])
	assert.Equal(t, "https://mcp.example.org/oauth/token", meta["token_endpoint"])
	assert.Equal(t, []any{"S256"}, meta["code_challenge_methods_supported"])
}

func TestRegister(t *testing.T) {
	p := NewProvider(Config{})
	router := p.Router(okHandler())

	body := `{"client_name":"example-client","redirect_uris":["https://client.example/callback"]}`
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]any

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp["client_id"].(string), "client_"))
	assert.Equal(t, "example-client", resp["client_name"])
	assert.Equal(t, "none", resp["token_endpoint_auth_method"])
}

func TestFullAuthorizationFlow(t *testing.T) {
	p := NewProvider(Config{})
	router := p.Router(okHandler())

	code := authorizeAndGetCode(t, router, "client_abc", "")

	rec := exchangeCode(t, router, code, "client_abc", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
		Scope       string `json:"scope"`
	}

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokenResp))
	assert.NotEmpty(t, tokenResp.AccessToken)
	assert.Equal(t, "Bearer", tokenResp.TokenType)
	assert.Equal(t, 3600, tokenResp.ExpiresIn)
	assert.Equal(t, "mcp", tokenResp.Scope)

	// The token opens the protected endpoint.
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)
	mcpRec := httptest.NewRecorder()
	router.ServeHTTP(mcpRec, req)

	assert.Equal(t, http.StatusOK, mcpRec.Code)
	assert.Equal(t, "mcp ok", mcpRec.Body.String())
}

func TestPKCEVerification(t *testing.T) {
	p := NewProvider(Config{})
	router := p.Router(okHandler())

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	code := authorizeAndGetCode(t, router, "client_abc", challenge)

	// Wrong verifier is rejected.
	rec := exchangeCode(t, router, code, "client_abc", "not-the-verifier")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Codes are single use, so a correct retry needs a fresh code.
	code = authorizeAndGetCode(t, router, "client_abc", challenge)

	rec = exchangeCode(t, router, code, "client_abc", verifier)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCodeIsSingleUse(t *testing.T) {
	p := NewProvider(Config{})
	router := p.Router(okHandler())

	code := authorizeAndGetCode(t, router, "client_abc", "")

	rec := exchangeCode(t, router, code, "client_abc", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = exchangeCode(t, router, code, "client_abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpiredCodeRejected(t *testing.T) {
	p := NewProvider(Config{})
	router := p.Router(okHandler())

	code := authorizeAndGetCode(t, router, "client_abc", "")

	p.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	rec := exchangeCode(t, router, code, "client_abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientIDMismatchRejected(t *testing.T) {
	p := NewProvider(Config{})
	router := p.Router(okHandler())

	code := authorizeAndGetCode(t, router, "client_abc", "")

	rec := exchangeCode(t, router, code, "client_other", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	p := NewProvider(Config{})
	router := p.Router(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareAllowsAnonymous(t *testing.T) {
	p := NewProvider(Config{})
	router := p.Router(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	p := NewProvider(Config{})
	router := p.Router(okHandler())

	code := authorizeAndGetCode(t, router, "client_abc", "")
	rec := exchangeCode(t, router, code, "client_abc", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokenResp))

	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)
	mcpRec := httptest.NewRecorder()
	router.ServeHTTP(mcpRec, req)

	assert.Equal(t, http.StatusUnauthorized, mcpRec.Code)
}

func TestHealth(t *testing.T) {
	p := NewProvider(Config{})
	router := p.Router(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "oauth2", resp["auth"])
}
