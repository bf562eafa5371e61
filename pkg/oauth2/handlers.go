package oauth2

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"socialauth/pkg/logger"
)

const (
	// AmbientSessionName is the cookie carrying the ambient session.
	AmbientSessionName = "socialauth_session"
	ambientMaxAge      = 86400 // 24 hours

	keyState     = "oauth_state"
	keyProvider  = "oauth_provider"
	keyIssuedAt  = "oauth_issued_at"
	keySessionID = "auth_session_id"

	// ContextSessionKey is where AuthMiddleware puts the *AuthSession.
	ContextSessionKey = "session"
)

// NewAmbientSessionMiddleware installs the signed cookie session that carries
// the login state and the AuthSession pointer between requests.
func NewAmbientSessionMiddleware(secret []byte, secure bool) gin.HandlerFunc {
	store := cookie.NewStore(secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   ambientMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sessions.Sessions(AmbientSessionName, store)
}

// HandlerConfig holds the URLs the handlers redirect to or derive from.
type HandlerConfig struct {
	// PublicBaseURL is the externally visible origin of this service. When empty
	// it is derived from each request.
	PublicBaseURL string
	// FrontendURL receives the browser after a callback.
	FrontendURL string
}

// MeResponse is the current user as seen by the frontend.
type MeResponse struct {
	Provider    string         `json:"provider"`
	UserID      string         `json:"userId"`
	DisplayName string         `json:"displayName"`
	Email       string         `json:"email,omitempty"`
	PictureURL  string         `json:"pictureUrl,omitempty"`
	LoginTime   time.Time      `json:"loginTime"`
	ExpiresAt   time.Time      `json:"expiresAt"`
	Metadata    map[string]any `json:"metadata"`
}

// Handler serves the /auth routes on top of a Manager.
type Handler struct {
	manager *Manager
	cfg     HandlerConfig
	logger  logger.Logger
}

// NewHandler returns a Handler. A nil log discards output.
func NewHandler(manager *Manager, c HandlerConfig, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		manager: manager,
		cfg:     c,
		logger:  log,
	}
}

// RegisterRoutes mounts the /auth group. The ambient session middleware must
// already be installed on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	auth := r.Group("/auth")
	{
		auth.GET("/providers", h.ProvidersHandler)
		auth.GET("/me", h.AuthMiddleware(), h.MeHandler)
		auth.POST("/logout", h.LogoutHandler)
		auth.GET("/:provider", h.LoginHandler)
		auth.GET("/:provider/callback", h.CallbackHandler)
	}
}

// ProvidersHandler godoc
// @Summary      List login providers
// @Description  Returns the configured providers in display order
// @Tags         auth
// @Produce      json
// @Success      200 {object} map[string][]ProviderInfo
// @Router       /auth/providers [get]
func (h *Handler) ProvidersHandler(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"providers": h.manager.ListProviders()})
}

// LoginHandler godoc
// @Summary      Start a login
// @Description  Binds a fresh state to the ambient session and returns the provider URL to redirect to
// @Tags         auth
// @Produce      json
// @Param        provider path string true "Provider name"
// @Success      200 {object} map[string]string
// @Failure      400 {object} map[string]string
// @Failure      500 {object} map[string]string
// @Router       /auth/{provider} [get]
func (h *Handler) LoginHandler(c *gin.Context) {
	name := c.Param("provider")

	req, err := h.manager.BeginLogin(c.Request.Context(), name, h.callbackBaseURL(c))
	if err != nil {
		var unknown *UnknownProviderError
		if errors.As(err, &unknown) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown provider"})
			return
		}
		h.logger.Error("failed to begin login", logger.Field{Key: "provider", Value: name}, logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to initiate login"})
		return
	}

	s := sessions.Default(c)
	s.Set(keyState, req.State)
	s.Set(keyProvider, req.Provider)
	s.Set(keyIssuedAt, req.IssuedAt.Unix())
	if err := s.Save(); err != nil {
		h.logger.Error("failed to save ambient session", logger.Field{Key: "provider", Value: name}, logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to initiate login"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"authUrl": req.AuthorizeURL})
}

// CallbackHandler godoc
// @Summary      Provider callback
// @Description  Completes the login and redirects to the frontend with auth=success or auth=error
// @Tags         auth
// @Param        provider path string true "Provider name"
// @Param        code query string false "Authorization code"
// @Param        state query string false "State issued at login"
// @Param        error query string false "Provider error code"
// @Success      302 {string} string "Redirect"
// @Router       /auth/{provider}/callback [get]
func (h *Handler) CallbackHandler(c *gin.Context) {
	s := sessions.Default(c)

	expectedState, _ := s.Get(keyState).(string)
	expectedProvider, _ := s.Get(keyProvider).(string)
	var issuedAt time.Time
	if ts, ok := s.Get(keyIssuedAt).(int64); ok {
		issuedAt = time.Unix(ts, 0)
	}

	// The state is single use whatever the outcome.
	s.Delete(keyState)
	s.Delete(keyProvider)
	s.Delete(keyIssuedAt)

	res := h.manager.CompleteLogin(c.Request.Context(), CallbackParams{
		Provider:                 c.Param("provider"),
		Code:                     c.Query("code"),
		PresentedState:           c.Query("state"),
		CallbackBaseURL:          h.callbackBaseURL(c),
		ExpectedState:            expectedState,
		ExpectedProvider:         expectedProvider,
		StateIssuedAt:            issuedAt,
		ProviderError:            c.Query("error"),
		ProviderErrorDescription: c.Query("error_description"),
	})

	if res.Success {
		s.Clear()
		s.Set(keySessionID, res.Session.SessionID)
	}

	if err := s.Save(); err != nil {
		h.logger.Error("failed to save ambient session", logger.Err(err))
		if res.Success {
			if err := h.manager.Logout(c.Request.Context(), res.Session.SessionID); err != nil {
				h.logger.Error("failed to discard session", logger.Err(err))
			}
			res = fail(StageStoreFailed, err)
		}
	}

	c.Header("Cache-Control", "no-store")
	if res.Success {
		c.Redirect(http.StatusFound, h.frontendURL(url.Values{"auth": {"success"}}))
		return
	}
	c.Redirect(http.StatusFound, h.frontendURL(url.Values{
		"auth":   {"error"},
		"reason": {res.Reason},
	}))
}

// MeHandler godoc
// @Summary      Current user
// @Description  Returns the authenticated user of the current ambient session
// @Tags         auth
// @Produce      json
// @Success      200 {object} MeResponse
// @Failure      401 {object} map[string]string
// @Router       /auth/me [get]
func (h *Handler) MeHandler(c *gin.Context) {
	session := c.MustGet(ContextSessionKey).(*AuthSession)

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, MeResponse{
		Provider:    session.Provider,
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
		Email:       session.Email,
		PictureURL:  session.PictureURL,
		LoginTime:   session.CreatedAt,
		ExpiresAt:   session.ExpiresAt,
		Metadata:    session.MetadataMap(),
	})
}

// LogoutHandler godoc
// @Summary      Logout
// @Description  Deletes the session and clears the ambient session cookie
// @Tags         auth
// @Produce      json
// @Success      200 {object} map[string]bool
// @Failure      500 {object} map[string]string
// @Router       /auth/logout [post]
func (h *Handler) LogoutHandler(c *gin.Context) {
	s := sessions.Default(c)
	sessionID, _ := s.Get(keySessionID).(string)

	if err := h.manager.Logout(c.Request.Context(), sessionID); err != nil {
		h.logger.Error("failed to delete session", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Logout failed"})
		return
	}

	s.Clear()
	s.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := s.Save(); err != nil {
		h.logger.Error("failed to clear ambient session", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Logout failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AuthMiddleware resolves the ambient session's AuthSession and stores it under
// ContextSessionKey. A stale pointer is dropped from the ambient session.
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		sessionID, _ := s.Get(keySessionID).(string)
		if sessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		session, err := h.manager.Session(c.Request.Context(), sessionID)
		if errors.Is(err, ErrSessionNotFound) {
			s.Delete(keySessionID)
			if err := s.Save(); err != nil {
				h.logger.Warn("failed to clear stale session pointer", logger.Err(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
			return
		}
		if err != nil {
			h.logger.Error("failed to load session", logger.Err(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
			return
		}

		c.Set(ContextSessionKey, session)
		c.Next()
	}
}

// callbackBaseURL is the origin the provider redirects back to.
func (h *Handler) callbackBaseURL(c *gin.Context) string {
	if h.cfg.PublicBaseURL != "" {
		return h.cfg.PublicBaseURL
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + c.Request.Host
}

func (h *Handler) frontendURL(params url.Values) string {
	base := h.cfg.FrontendURL
	if base == "" {
		base = "/"
	}

	u, err := url.Parse(base)
	if err != nil {
		return "/?" + params.Encode()
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}
