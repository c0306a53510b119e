package audit

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vexaro/backend-vpn/internal/common"
)

// HTTPRecorder records HTTP requests after they have been handled. Recording
// failures never affect the response; they go to OnError when set.
type HTTPRecorder struct {
	Service   *Service
	OnError   func(error)
	ActorFunc func(*http.Request) Actor
}

// HTTPConfig customises how the audit entry is produced for a route.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
	ActorFunc       func(*http.Request) Actor
}

// Middleware returns a chi-compatible middleware that records audit entries.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r.Service == nil || !r.Service.Enabled {
				next.ServeHTTP(w, req)
				return
			}

			recorder := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, req)

			actor := r.actor(req)
			if cfg.ActorFunc != nil {
				actor = cfg.ActorFunc(req)
			}
			resourceID := ""
			if cfg.ResourceIDParam != "" {
				resourceID = chi.URLParam(req, cfg.ResourceIDParam)
			}

			err := r.Service.Record(req.Context(), actor, cfg.Action, cfg.ResourceType, resourceID, req, recorder.Status(), cfg.metadata(req, recorder.Status()))
			if err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}

func (cfg HTTPConfig) metadata(req *http.Request, status int) []byte {
	if cfg.MetadataFunc == nil {
		return nil
	}
	payload := cfg.MetadataFunc(req, status)
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

func (r HTTPRecorder) actor(req *http.Request) Actor {
	if r.ActorFunc != nil {
		return r.ActorFunc(req)
	}
	if req == nil {
		return Actor{Kind: ActorKindAnonymous}
	}
	if userID, ok := common.UserID(req.Context()); ok && userID != "" {
		return Actor{Kind: ActorKindUser, UserID: &userID}
	}
	return Actor{Kind: ActorKindAnonymous}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}
