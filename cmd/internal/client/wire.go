package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Identity is the authenticated user snapshot the server returned.
type Identity struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Department  string `json:"department,omitempty"`
}

// Session is the credential material of an active session.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Credentials are the login inputs.
type Credentials struct {
	Username   string
	Password   string
	RememberMe bool
}

// Wire shapes mirror the server's JSON envelopes.

type userWire struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Department  string `json:"department"`
}

type sessionWire struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginWire struct {
	Success bool        `json:"success"`
	User    userWire    `json:"user"`
	Session sessionWire `json:"session"`
}

type refreshWire struct {
	Success bool        `json:"success"`
	Session sessionWire `json:"session"`
}

type meWire struct {
	Success bool     `json:"success"`
	User    userWire `json:"user"`
}

type errorWire struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (u userWire) identity() Identity {
	return Identity{
		UserID:      u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Department:  u.Department,
	}
}

func (s sessionWire) session() Session {
	return Session{
		AccessToken:      s.AccessToken,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshToken:     s.RefreshToken,
		RefreshExpiresAt: s.RefreshExpiresAt,
	}
}

// decodeWire decodes a JSON response body into dst with a sanity cap on size.
func decodeWire(resp *http.Response, dst any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	body := io.LimitReader(resp.Body, 1<<20)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

// apiErrorCode extracts the error code from an error envelope; "" when the
// body is not one.
func apiErrorCode(resp *http.Response) string {
	var ew errorWire
	if err := decodeWire(resp, &ew); err != nil {
		return ""
	}
	return ew.Error.Code
}
