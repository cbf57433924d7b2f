package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"visor/core-go/internal/catalog"
	"visor/core-go/internal/config"
	"visor/core-go/internal/layers"
	"visor/core-go/internal/metrics"
	"visor/core-go/internal/source"
	"visor/core-go/internal/view"
)

// Services are the collaborators the API serves from.
type Services struct {
	Catalog  *catalog.Catalog
	Resolver *source.Resolver
	Loader   *layers.Loader
	Cache    *layers.Cache
	Views    *view.Registry
	Metrics  *metrics.Metrics
	Map      config.MapSettings
	// LoadTimeout bounds how long a toggle request waits on a layer load.
	LoadTimeout time.Duration
}

type Handler struct {
	log         zerolog.Logger
	catalog     *catalog.Catalog
	resolver    *source.Resolver
	loader      *layers.Loader
	cache       *layers.Cache
	views       *view.Registry
	metrics     *metrics.Metrics
	mapSettings config.MapSettings
	loadTimeout time.Duration
}

func NewHandler(log zerolog.Logger, svc Services) *Handler {
	lt := svc.LoadTimeout
	if lt <= 0 {
		lt = 60 * time.Second
	}
	return &Handler{
		log:         log,
		catalog:     svc.Catalog,
		resolver:    svc.Resolver,
		loader:      svc.Loader,
		cache:       svc.Cache,
		views:       svc.Views,
		metrics:     svc.Metrics,
		mapSettings: svc.Map,
		loadTimeout: lt,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)
	// The static viewer calls the API from another origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Get("/map", h.handleGetMap)
			r.Get("/layers", h.handleListLayers)

			r.Route("/views", func(r chi.Router) {
				r.Post("/", h.handleCreateView)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetView)
					r.Delete("/", h.handleDeleteView)
					r.Route("/layers/{key}", func(r chi.Router) {
						// Toggles may wait on a remote fetch; everything else is in-memory.
						r.With(middleware.Timeout(h.loadTimeout)).Put("/", h.handleToggleLayer)
						r.Get("/geojson", h.handleGetLayerGeoJSON)
					})
				})
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, status, elapsed)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil || h.cache == nil || h.views == nil || h.loader == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "layer services not configured", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"ready":         true,
		"loaded_layers": len(h.cache.Loaded()),
		"views":         h.views.Len(),
	})
}

func (h *Handler) ensureServices(w http.ResponseWriter) bool {
	if h.catalog == nil || h.cache == nil || h.views == nil || h.loader == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "layer services not configured", nil)
		return false
	}
	return true
}
