package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jdholdren/classfeed/internal/classfeed"
	seyerrs "github.com/jdholdren/classfeed/internal/errors"
	"github.com/jdholdren/classfeed/internal/feedstore"
	"github.com/jdholdren/classfeed/internal/serverutil"
)

func (s *Server) store(ctx context.Context) *feedstore.Store {
	return s.stores.get(viewerID(ctx))
}

func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) error {
	return serverutil.WriteJSON(w, http.StatusOK, s.store(r.Context()).Snapshot())
}

// Loads the feed described by the body. An empty body loads the default smart
// feed.
func (s *Server) postFeed(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	q, err := serverutil.DecodeValid[classfeed.FeedQuery](r.Body)
	if err != nil {
		return err
	}

	st := s.store(ctx)
	err = st.LoadFeed(ctx, q)
	return s.writeLoad(ctx, w, st, err)
}

// Loads a preset: the path picks the algorithm and the body can narrow it.
func (s *Server) postAlgorithmFeed(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	q, err := serverutil.DecodeValid[classfeed.FeedQuery](r.Body)
	if err != nil {
		return err
	}

	st := s.store(ctx)
	err = st.LoadAlgorithm(ctx, classfeed.Algorithm(mux.Vars(r)["algorithm"]), q)
	return s.writeLoad(ctx, w, st, err)
}

func (s *Server) postRefresh(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	st := s.store(ctx)
	err := st.RefreshFeed(ctx)
	return s.writeLoad(ctx, w, st, err)
}

func (s *Server) postMore(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	st := s.store(ctx)
	err := st.LoadMorePosts(ctx)
	return s.writeLoad(ctx, w, st, err)
}

type applyPendingResp struct {
	Applied int             `json:"applied"`
	State   feedstore.State `json:"state"`
}

func (s *Server) postApplyPending(w http.ResponseWriter, r *http.Request) error {
	st := s.store(r.Context())
	n := st.ApplyPendingUpdates()

	return serverutil.WriteJSON(w, http.StatusOK, applyPendingResp{Applied: n, State: st.Snapshot()})
}

// writeLoad answers a load with the store's state. Rejected queries are plain
// errors. A provider failure still returns the state, which carries the error
// next to the posts that were kept.
func (s *Server) writeLoad(ctx context.Context, w http.ResponseWriter, st *feedstore.Store, err error) error {
	if err != nil && seyerrs.StatusOf(err) == http.StatusBadRequest {
		return err
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	} else if s.deps.Engagement != nil {
		if err := st.SubscribeFeed(ctx); err != nil {
			slog.WarnContext(ctx, "error subscribing to feed engagement", "error", err)
		}
	}

	return serverutil.WriteJSON(w, status, st.Snapshot())
}
