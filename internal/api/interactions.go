package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gorilla/mux"

	"github.com/jdholdren/classfeed/internal/classfeed"
	seyerrs "github.com/jdholdren/classfeed/internal/errors"
	"github.com/jdholdren/classfeed/internal/feedstore"
	"github.com/jdholdren/classfeed/internal/serverutil"
)

const defaultAnalyticsRange = 7 * 24 * time.Hour

// interactionResp is the toggle that was applied and the post as it now looks,
// when it is visible.
type interactionResp struct {
	Interaction feedstore.Interaction `json:"interaction"`
	Post        *classfeed.Post       `json:"post,omitempty"`
}

func (s *Server) postLike(w http.ResponseWriter, r *http.Request) error {
	return s.toggle(w, r, (*feedstore.Store).ToggleLike)
}

func (s *Server) postSave(w http.ResponseWriter, r *http.Request) error {
	return s.toggle(w, r, (*feedstore.Store).ToggleSave)
}

// toggle applies an interaction optimistically and confirms it with the
// provider, which reverts it on failure.
func (s *Server) toggle(w http.ResponseWriter, r *http.Request, flip func(*feedstore.Store, string) feedstore.Interaction) error {
	var (
		ctx    = r.Context()
		st     = s.store(ctx)
		postID = mux.Vars(r)["postID"]
	)

	in := flip(st, postID)
	if err := st.Confirm(ctx, in); err != nil {
		return apiErr(err)
	}
	if in.Reaction == classfeed.ReactionLike {
		s.publishEngagement(ctx, postID)
	}

	resp := interactionResp{Interaction: in}
	if p, ok := st.Post(postID); ok {
		resp.Post = &p
	}
	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) postShare(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		st     = s.store(ctx)
		postID = mux.Vars(r)["postID"]
	)

	if err := st.Share(ctx, postID); err != nil {
		return apiErr(err)
	}
	s.publishEngagement(ctx, postID)

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) postView(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		st     = s.store(ctx)
		postID = mux.Vars(r)["postID"]
	)

	st.MarkViewed(postID)
	st.RecordPostViews(ctx, []string{postID})

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) getInteractions(w http.ResponseWriter, r *http.Request) error {
	return serverutil.WriteJSON(w, http.StatusOK, s.store(r.Context()).Interactions())
}

// Summarizes ?from= to ?to=, any common date layout. Defaults to the last week.
func (s *Server) getAnalytics(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx = r.Context()
		q   = r.URL.Query()
		to  = time.Now().UTC()
	)

	if v := q.Get("to"); v != "" {
		t, err := dateparse.ParseIn(v, time.UTC)
		if err != nil {
			return seyerrs.E(err, http.StatusBadRequest, seyerrs.Detail{Field: "to", Error: "unparseable date"})
		}
		to = t
	}
	from := to.Add(-defaultAnalyticsRange)
	if v := q.Get("from"); v != "" {
		t, err := dateparse.ParseIn(v, time.UTC)
		if err != nil {
			return seyerrs.E(err, http.StatusBadRequest, seyerrs.Detail{Field: "from", Error: "unparseable date"})
		}
		from = t
	}
	if from.After(to) {
		return seyerrs.E("from must not be after to", http.StatusBadRequest, seyerrs.Detail{Field: "from", Error: "after to"})
	}

	summary, err := s.store(ctx).Analytics(ctx, from, to)
	if err != nil {
		return err
	}
	return serverutil.WriteJSON(w, http.StatusOK, summary)
}

// publishEngagement pushes the post's stored counters to every other viewer
// listening on it. Failures only cost other viewers a live update.
func (s *Server) publishEngagement(ctx context.Context, postID string) {
	if s.deps.Counters == nil || s.deps.Publisher == nil {
		return
	}

	d, err := s.deps.Counters.Engagement(ctx, postID)
	if err != nil {
		slog.WarnContext(ctx, "error reading engagement", "post_id", postID, "error", err)
		return
	}
	if _, err := s.deps.Publisher.PublishEngagement(ctx, d); err != nil {
		slog.WarnContext(ctx, "error publishing engagement", "post_id", postID, "error", err)
	}
}
