package client

import (
	"io"
	"net/http"
	"strings"
)

// authTransport decorates a RoundTripper with credential injection and a
// single coordinated renew-and-retry on 401. Auth endpoints themselves pass
// through untouched so a rejected refresh can never recurse into another
// renewal.
type authTransport struct {
	base http.RoundTripper
	m    *Manager
}

func isAuthEndpoint(path string) bool {
	return strings.HasSuffix(path, "/auth/login") ||
		strings.HasSuffix(path, "/auth/refresh") ||
		strings.HasSuffix(path, "/auth/logout")
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if isAuthEndpoint(req.URL.Path) {
		return t.base.RoundTrip(req)
	}

	token, _ := t.m.AccessToken()
	resp, err := t.base.RoundTrip(withBearer(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// The request body has been consumed; without GetBody the retry cannot
	// replay it, so the 401 stands.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	sess, renewErr := t.m.Renew(req.Context())
	if renewErr != nil {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	// Exactly one retry: a second 401 surfaces to the caller as-is.
	return t.base.RoundTrip(withBearer(retry, sess.AccessToken))
}

func withBearer(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return out
}
