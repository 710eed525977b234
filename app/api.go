package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fiffu/releasewatch/config"
	"github.com/fiffu/releasewatch/lib"
	"github.com/fiffu/releasewatch/lib/models"
	"github.com/fiffu/releasewatch/lib/watcher"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg.GetCreds(), log, svc)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Sugar().Errorw("API server stopped", "err", err)
				}
			}()
			log.Sugar().Infow("API listening", "addr", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(creds map[string]string, log *zap.Logger, svc *lib.Service) http.Handler {
	ctrl := &controller{log, svc}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if len(creds) > 0 {
			r.Use(middleware.BasicAuth("releasewatch", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Get("/groups", ctrl.listGroups)
		r.Post("/groups/{kind}/poll", ctrl.triggerPoll)

		r.Route("/streams", func(r chi.Router) {
			r.Get("/", ctrl.listStreams)
			r.Get("/{kind}/{key}/seen", ctrl.streamSeen)
			r.Get("/{kind}/{key}/history", ctrl.streamHistory)
		})
	})

	return r
}

type controller struct {
	log *zap.Logger
	svc *lib.Service
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Errorw("Request failed", "error", err)
		return
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(b)
	}
}

func (ctrl *controller) listStreams(w http.ResponseWriter, r *http.Request) {
	ctrl.resolve(w, http.StatusOK, FromMany[lib.StreamStatus, StreamStatusView](ctrl.svc.ListStreams()))
}

func (ctrl *controller) listGroups(w http.ResponseWriter, r *http.Request) {
	ctrl.resolve(w, http.StatusOK, FromMany[watcher.GroupStatus, GroupView](ctrl.svc.Groups()))
}

func (ctrl *controller) streamSeen(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	key := chi.URLParam(r, "key")

	ids, err := ctrl.svc.StreamSeen(kind, key)
	if err != nil {
		ctrl.reject(w, statusOf(err), err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"kind": kind,
		"key":  key,
		"seen": ids,
	})
}

func (ctrl *controller) streamHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := chi.URLParam(r, "kind")
	key := chi.URLParam(r, "key")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			ctrl.reject(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	recs, err := ctrl.svc.StreamHistory(ctx, kind, key, limit)
	if err != nil {
		ctrl.reject(w, statusOf(err), err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FromMany[models.DispatchRecord, DispatchRecordView](recs))
}

func (ctrl *controller) triggerPoll(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	m, err := ctrl.svc.TriggerPoll(kind)
	if err != nil {
		ctrl.reject(w, statusOf(err), err)
		return
	}
	ctrl.log.Sugar().Infow("Manual poll finished", "kind", kind, "request_id", middleware.GetReqID(r.Context()))
	ctrl.resolve(w, http.StatusOK, m)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, lib.ErrStreamNotFound), errors.Is(err, watcher.ErrUnknownGroup):
		return http.StatusNotFound
	case errors.Is(err, watcher.ErrSuspended), errors.Is(err, watcher.ErrGroupBusy):
		return http.StatusConflict
	case errors.Is(err, watcher.ErrStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
