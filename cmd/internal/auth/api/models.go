package authapi

import "time"

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	RememberMe   bool   `json:"remember_me"`
}

type registerRequest struct {
	SignupCode  string `json:"signup_code"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	RememberMe  bool   `json:"remember_me"`
}

type mintSignupCodeRequest struct {
	Role       string `json:"role"`
	Department string `json:"department"`
	TTLHours   int    `json:"ttl_hours"`
	MaxUses    int    `json:"max_uses"`
	Note       string `json:"note"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	Everywhere   bool   `json:"everywhere"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	Department  string    `json:"department,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginResponse struct {
	Success bool            `json:"success"`
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type refreshResponse struct {
	Success bool            `json:"success"`
	Session sessionResponse `json:"session"`
}

type logoutResponse struct {
	Success bool `json:"success"`
}

type mintSignupCodeResponse struct {
	Success   bool      `json:"success"`
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxUses   int       `json:"max_uses"`
}

type meResponse struct {
	Success bool         `json:"success"`
	User    userResponse `json:"user"`
}
