package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	codeTTL        = time.Minute
	tokenExpiresIn = 3600
)

type MockUser struct {
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
	Locale  string `json:"locale"`
}

var mockUsers = map[string]MockUser{
	"42": {Sub: "42", Name: "Ada Lovelace", Email: "ada@example.com", Picture: "https://i.pravatar.cc/150?u=42", Locale: "en"},
	"7":  {Sub: "7", Name: "Taro Yamada", Email: "taro@example.com", Picture: "https://i.pravatar.cc/150?u=7", Locale: "ja"},
}

type issuedCode struct {
	redirectURI string
	user        MockUser
	expiresAt   time.Time
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
}

type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// IdentityProvider is an auto-approving OAuth 2.0 authorization server. Codes
// are single use; access tokens live until the process exits.
type IdentityProvider struct {
	clientID     string
	clientSecret string

	mu     sync.Mutex
	codes  map[string]issuedCode
	tokens map[string]MockUser
}

func NewIdentityProvider(clientID, clientSecret string) *IdentityProvider {
	return &IdentityProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		codes:        make(map[string]issuedCode),
		tokens:       make(map[string]MockUser),
	}
}

func (p *IdentityProvider) Register(mux *http.ServeMux) {
	mux.HandleFunc("/authorize", p.AuthorizeHandler)
	mux.HandleFunc("/token", p.TokenHandler)
	mux.HandleFunc("/userinfo", p.UserInfoHandler)
}

// AuthorizeHandler approves immediately and sends the browser back with a
// code. ?user= picks the mock account; ?deny=1 simulates a refusal.
func (p *IdentityProvider) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	target, err := url.Parse(redirectURI)
	if err != nil || target.Scheme == "" || target.Host == "" {
		http.Error(w, "Invalid redirect_uri", http.StatusBadRequest)
		return
	}
	if q.Get("client_id") != p.clientID {
		http.Error(w, "Unknown client_id", http.StatusBadRequest)
		return
	}

	params := target.Query()
	params.Set("state", q.Get("state"))

	if q.Get("response_type") != "code" {
		params.Set("error", "unsupported_response_type")
	} else if q.Get("deny") == "1" {
		params.Set("error", "access_denied")
		params.Set("error_description", "The user denied the request")
	} else {
		userID := q.Get("user")
		if userID == "" {
			userID = "42"
		}
		user, ok := mockUsers[userID]
		if !ok {
			http.Error(w, "Unknown user", http.StatusBadRequest)
			return
		}

		code := randomToken()
		p.mu.Lock()
		p.codes[code] = issuedCode{redirectURI: redirectURI, user: user, expiresAt: time.Now().Add(codeTTL)}
		p.mu.Unlock()
		params.Set("code", code)
	}

	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (p *IdentityProvider) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request"})
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostForm.Get("client_id")
		clientSecret = r.PostForm.Get("client_secret")
	}
	if clientID != p.clientID || clientSecret != p.clientSecret {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid_client"})
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unsupported_grant_type"})
		return
	}

	code := r.PostForm.Get("code")
	p.mu.Lock()
	issued, found := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()

	if !found || time.Now().After(issued.expiresAt) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_grant", ErrorDescription: "code is invalid or expired"})
		return
	}
	if r.PostForm.Get("redirect_uri") != issued.redirectURI {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_grant", ErrorDescription: "redirect_uri mismatch"})
		return
	}

	accessToken := randomToken()
	p.mu.Lock()
	p.tokens[accessToken] = issued.user
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    tokenExpiresIn,
		RefreshToken: randomToken(),
	})
}

func (p *IdentityProvider) UserInfoHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid_token"})
		return
	}

	p.mu.Lock()
	user, found := p.tokens[token]
	p.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid_token"})
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func randomToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
