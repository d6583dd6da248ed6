package authapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity"
	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/signup"
)

// EnableSignup wires code-gated registration onto the handler. Without it
// /auth/register and /auth/signup-codes are not served.
func (h *Handler) EnableSignup(codes *signup.Service) {
	if h == nil {
		return
	}
	h.signups = codes
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" || strings.TrimSpace(req.SignupCode) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "signup_code, username and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	// Registration shares the login throttle: both are unauthenticated
	// endpoints that verify secrets.
	if !h.loginThrottle.Allow(ip, now) {
		h.log.Info("auth.register.rate_limited", "ip", ip)
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
		return
	}

	ok, code, err := h.signups.ValidateCode(ctx, req.SignupCode, now)
	if err != nil {
		h.log.Error("auth.register.validate.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}
	if !ok {
		h.log.Info("auth.register.code_rejected", "ip", ip)
		writeError(w, http.StatusForbidden, "invalid_signup_code", "signup code rejected")
		return
	}

	dept := ""
	if code.Department != nil {
		dept = *code.Department
	}
	user, err := h.identity.CreateUser(ctx, identity.CreateUserInput{
		Username:    username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Role:        code.Role,
		Department:  dept,
		Now:         now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "username_taken", "username is already in use")
		case errors.Is(err, identity.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "registration rejected")
		default:
			h.log.Error("auth.register.create.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		}
		return
	}

	if _, err := h.signups.RedeemCode(ctx, signup.RedeemInput{Code: req.SignupCode, RedeemedBy: &user.ID, Now: now}); err != nil {
		// The code was valid moments ago; losing the race here leaves the
		// account created but the code untouched for this attempt.
		h.log.Warn("auth.register.redeem.fail", "user_id", user.ID, "err", err)
		if errors.Is(err, signup.ErrNotActive) || errors.Is(err, signup.ErrNotFound) {
			writeError(w, http.StatusForbidden, "invalid_signup_code", "signup code rejected")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	issued, err := h.sessions.IssueSession(ctx, now, user.ID, string(user.Role), req.RememberMe)
	if err != nil {
		h.log.Error("auth.register.issue.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	h.log.Info("auth.register.ok", "user_id", user.ID, "role", user.Role, "signup_code_id", code.ID)
	writeJSON(w, http.StatusCreated, loginResponse{
		Success: true,
		User:    toUserResponse(user),
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleMintSignupCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
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
	if claims.Role != string(identity.RoleAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return
	}

	var req mintSignupCodeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	in := signup.MintInput{
		Role:      identity.Role(strings.TrimSpace(req.Role)),
		CreatedBy: &claims.UserID,
		TTL:       time.Duration(req.TTLHours) * time.Hour,
		MaxUses:   req.MaxUses,
		Now:       now,
	}
	if d := strings.TrimSpace(req.Department); d != "" {
		in.Department = &d
	}
	if n := strings.TrimSpace(req.Note); n != "" {
		in.Note = &n
	}

	code, plain, err := h.signups.MintCode(ctx, in)
	if err != nil {
		if errors.Is(err, signup.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "signup code rejected")
			return
		}
		h.log.Error("auth.signup_code.mint.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	h.log.Info("auth.signup_code.minted", "code_id", code.ID, "role", code.Role, "by", claims.UserID)
	writeJSON(w, http.StatusCreated, mintSignupCodeResponse{
		Success:   true,
		ID:        code.ID,
		Code:      plain,
		Role:      string(code.Role),
		ExpiresAt: code.ExpiresAt,
		MaxUses:   code.MaxUses,
	})
}
