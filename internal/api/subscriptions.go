package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jdholdren/classfeed/internal/serverutil"
)

type subscriptionsResp struct {
	Subscriptions []string `json:"subscriptions"`
}

func (s *Server) postSubscription(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	st := s.store(ctx)
	if err := st.Subscribe(ctx, mux.Vars(r)["postID"]); err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, subscriptionsResp{Subscriptions: st.Subscriptions()})
}

func (s *Server) deleteSubscription(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	st := s.store(ctx)
	if err := st.Unsubscribe(ctx, mux.Vars(r)["postID"]); err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, subscriptionsResp{Subscriptions: st.Subscriptions()})
}

func (s *Server) getSubscriptions(w http.ResponseWriter, r *http.Request) error {
	return serverutil.WriteJSON(w, http.StatusOK, subscriptionsResp{Subscriptions: s.store(r.Context()).Subscriptions()})
}

// Tears down every subscription. Teardown failures are reported but the
// subscriptions are forgotten either way.
func (s *Server) deleteSubscriptions(w http.ResponseWriter, r *http.Request) error {
	if err := s.store(r.Context()).UnsubscribeAll(); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
