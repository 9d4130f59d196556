package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"

	seyerrs "github.com/jdholdren/classfeed/internal/errors"
	"github.com/jdholdren/classfeed/internal/logger"
	"github.com/jdholdren/classfeed/internal/serverutil"
)

const sessionCookieName = "classfeed_session"

// Describes a viewer's sessionState that's persisted to their cookie.
type sessionState struct {
	State    string // For SSO
	ViewerID string
}

type viewerKey struct{}

// Fetches the current session tied to the request.
func session(r *http.Request, secureCookie *securecookie.SecureCookie) sessionState {
	cookie, err := r.Cookie(sessionCookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return sessionState{}
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "error fetching cookie", "error", err)
		return sessionState{}
	}

	value := sessionState{}
	if err := secureCookie.Decode(sessionCookieName, cookie.Value, &value); err != nil {
		slog.ErrorContext(r.Context(), "error decoding cookie", "error", err)
		return sessionState{}
	}

	return value
}

// Sets the session on the request.
func setSession(w http.ResponseWriter, secureCookie *securecookie.SecureCookie, https bool, sess sessionState) {
	encoded, err := secureCookie.Encode(sessionCookieName, sess)
	if err != nil {
		slog.Error("error encoding cookie", "error", err)
		return
	}

	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		Secure:   https,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, cookie)
}

// requireSessionMiddleware rejects requests without a viewer and puts the
// viewer's id on the context for handlers and logs.
func requireSessionMiddleware(sc *securecookie.SecureCookie) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := session(r, sc)
			if state.ViewerID == "" {
				http.Error(w, "Unauthenticated", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), viewerKey{}, state.ViewerID)
			ctx = logger.Ctx(ctx, slog.String("viewer_id", state.ViewerID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func viewerID(ctx context.Context) string {
	id, _ := ctx.Value(viewerKey{}).(string)
	return id
}

// Viewer is the structured data about the current viewer in the frontend.
type Viewer struct {
	ViewerID string `json:"viewer_id"`
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) error {
	sess := session(r, s.secureCookie)
	if sess.ViewerID == "" {
		return serverutil.WriteJSON(w, http.StatusOK, struct{}{})
	}

	return serverutil.WriteJSON(w, http.StatusOK, Viewer{ViewerID: sess.ViewerID})
}

type debugLoginReq struct {
	ViewerID string `json:"viewer_id"`
}

func (d debugLoginReq) Validate() error {
	if strings.TrimSpace(d.ViewerID) == "" {
		return seyerrs.E("viewer_id is required", http.StatusBadRequest, seyerrs.Detail{Field: "viewer_id", Error: "required"})
	}
	return nil
}

// Signs in as any viewer. Only mounted with debug endpoints on.
func (s *Server) handleDebugLogin(w http.ResponseWriter, r *http.Request) error {
	req, err := serverutil.DecodeValid[debugLoginReq](r.Body)
	if err != nil {
		return err
	}

	setSession(w, s.secureCookie, s.httpsCookies, sessionState{ViewerID: req.ViewerID})
	return serverutil.WriteJSON(w, http.StatusOK, Viewer{ViewerID: req.ViewerID})
}

// Signs out and drops the viewer's store.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) error {
	if sess := session(r, s.secureCookie); sess.ViewerID != "" {
		s.stores.remove(sess.ViewerID)
	}
	setSession(w, s.secureCookie, s.httpsCookies, sessionState{})

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Redirects the viewer to the SSO login page.
func (s *Server) handleSSORedirect(w http.ResponseWriter, r *http.Request) error {
	// Create a state to store as part of the flow
	state := sessionState{
		State: uuid.NewString(),
	}
	setSession(w, s.secureCookie, s.httpsCookies, state)

	http.Redirect(w, r, s.ghOauthConfig.AuthCodeURL(state.State), http.StatusTemporaryRedirect)
	return nil
}

// Handles the code coming back from github. The viewer id is their github
// login.
func (s *Server) handleSSOCallback(w http.ResponseWriter, r *http.Request) error {
	// Check the state and error
	sess := session(r, s.secureCookie)
	q := r.URL.Query()
	if sess.State == "" || q.Get("state") != sess.State {
		http.Redirect(w, r, "/welcome?error="+url.QueryEscape("invalid_state"), http.StatusFound)
		return nil
	}
	if q.Get("error") != "" {
		http.Redirect(w, r, "/welcome?error="+url.QueryEscape(q.Get("error")), http.StatusFound)
		return nil
	}

	// Exchange:
	tok, err := s.ghOauthConfig.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		http.Redirect(w, r, "/welcome?error="+url.QueryEscape(err.Error()), http.StatusFound)
		return nil
	}

	// Get some details about our person
	client := s.ghOauthConfig.Client(r.Context(), tok)
	resp, err := client.Get("https://api.github.com/user")
	if err != nil {
		http.Redirect(w, r, "/welcome?error="+url.QueryEscape(err.Error()), http.StatusFound)
		return nil
	}
	defer resp.Body.Close()

	var info struct {
		Username string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil || info.Username == "" {
		http.Redirect(w, r, "/welcome?error="+url.QueryEscape("invalid_user"), http.StatusFound)
		return nil
	}

	// Start a session
	setSession(w, s.secureCookie, s.httpsCookies, sessionState{ViewerID: info.Username})

	// Use the configured redirect URL, defaulting to "/" if not set
	redirectURL := s.ssoRedirectURL
	if redirectURL == "" {
		redirectURL = "/"
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
	return nil
}

func (s *Server) getLogout(w http.ResponseWriter, r *http.Request) error {
	if sess := session(r, s.secureCookie); sess.ViewerID != "" {
		s.stores.remove(sess.ViewerID)
	}
	setSession(w, s.secureCookie, s.httpsCookies, sessionState{})

	// Redirect to the welcome page
	http.Redirect(w, r, "/welcome", http.StatusFound)

	return nil
}
