package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity"
	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/auth/session"
	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/signup"
)

// Handler wires the HTTP auth endpoints to the identity store and session
// service. It is the server half of the contract the client session manager
// consumes.
type Handler struct {
	log *slog.Logger
	cfg Config

	identity identity.Store
	sessions *session.Service
	signups  *signup.Service

	loginThrottle *ipThrottle
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, idStore identity.Store, sessions *session.Service) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if idStore == nil {
		return nil, errors.New("authapi: nil identity store")
	}
	if sessions == nil {
		return nil, errors.New("authapi: nil session service")
	}

	return &Handler{
		log:           log,
		cfg:           cfg,
		identity:      idStore,
		sessions:      sessions,
		loginThrottle: newIPThrottle(cfg.LoginIPMax, cfg.LoginIPWindow),
	}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/me", h.handleMe)
	if h.signups != nil {
		mux.HandleFunc("/auth/register", h.handleRegister)
		mux.HandleFunc("/auth/signup-codes", h.handleMintSignupCode)
	}
}

// SessionService returns the underlying session service (used by the WS gateway).
func (h *Handler) SessionService() *session.Service {
	if h == nil {
		return nil
	}
	return h.sessions
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	if !h.loginThrottle.Allow(ip, now) {
		h.log.Info("auth.login.rate_limited", "ip", ip)
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts")
		return
	}

	user, err := h.identity.Authenticate(ctx, username, req.Password)
	if err != nil {
		if identity.IsInvalidCredentials(err) {
			h.log.Info("auth.login.fail", "ip", ip, "username", username)
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
			return
		}
		h.log.Error("auth.login.error", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	issued, err := h.sessions.IssueSession(ctx, now, user.ID, string(user.Role), req.RememberMe)
	if err != nil {
		h.log.Error("auth.login.issue.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	h.log.Info("auth.login.ok", "user_id", user.ID, "session_id", issued.SessionID)
	writeJSON(w, http.StatusOK, loginResponse{
		Success: true,
		User:    toUserResponse(user),
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	issued, err := h.sessions.RotateRefresh(ctx, now, req.RefreshToken, req.RememberMe)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshReuseDetected):
			h.log.Warn("auth.refresh.reuse_detected")
			writeError(w, http.StatusUnauthorized, "refresh_reuse", "refresh token reuse detected")
		case errors.Is(err, session.ErrSessionExpired),
			errors.Is(err, session.ErrSessionRevoked),
			errors.Is(err, session.ErrSessionNotFound):
			writeError(w, http.StatusUnauthorized, "invalid_refresh", "refresh token rejected")
		default:
			h.log.Error("auth.refresh.error", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		}
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Success: true,
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req logoutRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	if req.Everywhere {
		// Logout-everywhere needs a proven identity, not just refresh material.
		claims, err := h.sessions.ValidateAccessToken(ctx, bearerToken(r), now)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "valid access token required")
			return
		}
		if err := h.sessions.RevokeAll(ctx, now, claims.UserID); err != nil {
			h.log.Error("auth.logout.revoke_all.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return
		}
		h.log.Info("auth.logout.everywhere", "user_id", claims.UserID)
		writeJSON(w, http.StatusOK, logoutResponse{Success: true})
		return
	}

	// Revoking an unknown token is a success: logout must be idempotent and
	// must not leak token validity.
	if err := h.sessions.RevokeByRefreshToken(ctx, now, req.RefreshToken); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}
	writeJSON(w, http.StatusOK, logoutResponse{Success: true})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	claims, err := h.sessions.ValidateAccessToken(ctx, bearerToken(r), now)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "access token rejected")
		return
	}

	user, err := h.identity.GetByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unknown user")
			return
		}
		h.log.Error("auth.me.error", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	_ = h.sessions.TouchSession(ctx, now, claims.SessionID)

	writeJSON(w, http.StatusOK, meResponse{Success: true, User: toUserResponse(user)})
}

// ---- mapping ----

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Department:  u.Department,
		CreatedAt:   u.CreatedAt,
	}
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		SessionID:        issued.SessionID,
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshToken:     issued.RefreshToken,
		RefreshExpiresAt: issued.RefreshExp,
	}
}
