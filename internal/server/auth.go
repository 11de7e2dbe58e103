package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/smart-oj/assistant-server/internal/agent/model"
	errx "github.com/smart-oj/assistant-server/internal/core/error"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

// sessionCookie is the judge backend's session cookie, forwarded verbatim
// both to the backend for identification and to the tool gateway as the
// run's credential.
const sessionCookie = "session_id"

// User is the identity the judge backend resolves for a session.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	IsSuperuser bool   `json:"is_superuser"`
}

// UserIDString returns the user ID in the string form state and storage use.
func (u *User) UserIDString() string {
	return fmt.Sprintf("%d", u.ID)
}

// Authenticator resolves session cookies against the judge backend.
type Authenticator struct {
	baseURL string
	client  *http.Client
}

func NewAuthenticator(cfg model.BackendConfig) *Authenticator {
	return &Authenticator{
		baseURL: cfg.URL,
		client:  &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}
}

var errUnauthorized = &errx.AppError{
	Status:  http.StatusUnauthorized,
	Message: "authentication required",
}

// Resolve validates the session and returns the user it belongs to.
func (a *Authenticator) Resolve(ctx context.Context, sessionID string) (*User, error) {
	if sessionID == "" {
		return nil, errUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/user", nil)
	if err != nil {
		return nil, errx.New(err, http.StatusInternalServerError, errx.SystemErrorMessage)
	}
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: sessionID})

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errx.New(err, http.StatusBadGateway, "identity backend unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, errx.New(fmt.Errorf("backend status %d", resp.StatusCode), http.StatusBadGateway, "identity backend error")
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, errx.New(err, http.StatusBadGateway, "identity backend returned malformed user")
	}
	return &u, nil
}

type authCtxKey struct{}

// authInfo is what the middleware attaches for handlers.
type authInfo struct {
	User      *User
	SessionID string
}

// requireAuth wraps a handler with session-cookie authentication.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			writeError(w, errUnauthorized)
			return
		}
		user, err := s.auth.Resolve(r.Context(), cookie.Value)
		if err != nil {
			logx.Debug().Err(err).Msg("authentication failed")
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), authCtxKey{}, &authInfo{User: user, SessionID: cookie.Value})
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin additionally gates the handler on superuser status.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !authFrom(r).User.IsSuperuser {
			writeError(w, &errx.AppError{Status: http.StatusForbidden, Message: "admin privileges required"})
			return
		}
		next(w, r)
	})
}

func authFrom(r *http.Request) *authInfo {
	info, _ := r.Context().Value(authCtxKey{}).(*authInfo)
	return info
}
