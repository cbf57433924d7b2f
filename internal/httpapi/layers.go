package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"visor/core-go/internal/catalog"
	"visor/core-go/internal/config"
	"visor/core-go/internal/fetch"
	"visor/core-go/internal/layers"
	"visor/core-go/internal/source"
	"visor/core-go/internal/view"
)

type mapResponse struct {
	Map      config.MapSettings `json:"map"`
	Controls []layerControl     `json:"controls"`
}

type layerControl struct {
	Key       catalog.Key  `json:"key"`
	ControlID string       `json:"control_id"`
	Label     string       `json:"label"`
	Kind      catalog.Kind `json:"kind"`
}

type layerInfo struct {
	Key         catalog.Key       `json:"key"`
	Kind        catalog.Kind      `json:"kind"`
	Label       string            `json:"label"`
	ControlID   string            `json:"control_id"`
	Style       catalog.Style     `json:"style"`
	PopupFields []string          `json:"popup_fields"`
	Source      *source.Location  `json:"source,omitempty"`
	Candidates  []source.Location `json:"candidates"`
	Loaded      bool              `json:"loaded"`
	Features    *int              `json:"features,omitempty"`
	LoadedAt    *time.Time        `json:"loaded_at,omitempty"`
}

type toggleRequest struct {
	Visible *bool `json:"visible"`
}

type toggleResponse struct {
	Key      catalog.Key    `json:"key"`
	Checked  bool           `json:"checked"`
	Skipped  bool           `json:"skipped,omitempty"`
	Status   string         `json:"status"`
	Style    *catalog.Style `json:"style,omitempty"`
	Features *int           `json:"features,omitempty"`
}

func (h *Handler) handleGetMap(w http.ResponseWriter, r *http.Request) {
	resp := mapResponse{Map: h.mapSettings, Controls: []layerControl{}}
	for _, e := range h.catalog.Entries() {
		resp.Controls = append(resp.Controls, layerControl{
			Key:       e.Key,
			ControlID: e.ControlID,
			Label:     e.Label,
			Kind:      e.Kind,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListLayers(w http.ResponseWriter, r *http.Request) {
	if !h.ensureServices(w) {
		return
	}
	resp := make([]layerInfo, 0, len(h.catalog.Entries()))
	for _, e := range h.catalog.Entries() {
		info := layerInfo{
			Key:         e.Key,
			Kind:        e.Kind,
			Label:       e.Label,
			ControlID:   e.ControlID,
			Style:       e.Style,
			PopupFields: append([]string{}, e.Popup...),
			Candidates:  h.resolver.Candidates(e.Key),
		}
		if info.Candidates == nil {
			info.Candidates = []source.Location{}
		}
		if loc, err := h.loader.Locate(e.Key); err == nil {
			info.Source = &loc
		}
		if l, ok := h.cache.Get(e.Key); ok {
			n := l.FeatureCount()
			at := l.LoadedAt
			info.Loaded = true
			info.Features = &n
			info.LoadedAt = &at
		}
		resp = append(resp, info)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateView(w http.ResponseWriter, r *http.Request) {
	if !h.ensureServices(w) {
		return
	}
	v := h.views.Create()
	h.writeJSON(w, http.StatusCreated, v.Snapshot())
}

func (h *Handler) handleGetView(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookupView(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, v.Snapshot())
}

func (h *Handler) handleDeleteView(w http.ResponseWriter, r *http.Request) {
	if !h.ensureServices(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.views.Delete(id); err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "view not found", map[string]any{"id": id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleToggleLayer(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.Visible == nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "visible is required", nil)
		return
	}

	v, ok := h.lookupView(w, r)
	if !ok {
		return
	}
	key, ok := h.layerKey(w, r)
	if !ok {
		return
	}

	res, err := v.Toggle(r.Context(), key, *req.Visible)
	if err != nil {
		h.writeLoadError(w, r, key, err, res)
		return
	}

	resp := toggleResponse{Key: res.Key, Checked: res.Checked, Skipped: res.Skipped, Status: res.Status}
	if l, ok := v.Attached(key); ok && res.Checked {
		n := l.FeatureCount()
		style := l.Style
		resp.Style = &style
		resp.Features = &n
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetLayerGeoJSON(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookupView(w, r)
	if !ok {
		return
	}
	key, ok := h.layerKey(w, r)
	if !ok {
		return
	}
	l, ok := v.Attached(key)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_attached", "layer is not attached to this view", map[string]any{"key": key})
		return
	}
	body, err := l.GeoJSON()
	if err != nil {
		h.log.Error().Err(err).Str("layer", string(key)).Msg("encode layer geojson failed")
		h.writeError(w, http.StatusInternalServerError, "encode_failed", "failed to encode layer", nil)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) lookupView(w http.ResponseWriter, r *http.Request) (*view.View, bool) {
	if !h.ensureServices(w) {
		return nil, false
	}
	id := chi.URLParam(r, "id")
	v, err := h.views.Get(id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "view not found", map[string]any{"id": id})
		return nil, false
	}
	return v, true
}

func (h *Handler) layerKey(w http.ResponseWriter, r *http.Request) (catalog.Key, bool) {
	raw := chi.URLParam(r, "key")
	key, ok := catalog.ParseKey(raw)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid layer", map[string]any{"key": raw})
		return "", false
	}
	if _, ok := h.catalog.Lookup(key); !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "layer not configured", map[string]any{"key": raw})
		return "", false
	}
	return key, true
}

// writeLoadError maps the load error taxonomy onto HTTP statuses. The details always carry
// the reverted control state so the UI can uncheck the control. Only the request giving up
// counts as load_timeout; a fetch that timed out on its own is an upstream failure.
func (h *Handler) writeLoadError(w http.ResponseWriter, r *http.Request, key catalog.Key, err error, res view.ToggleResult) {
	details := map[string]any{"key": key, "checked": res.Checked, "status": res.Status}

	var statusErr *fetch.StatusError
	var urlErr *url.Error
	var parseErr *layers.ParseError
	switch {
	case r.Context().Err() != nil:
		h.writeError(w, http.StatusGatewayTimeout, "load_timeout", "layer load did not finish in time", details)
	case errors.Is(err, layers.ErrMissingSource):
		h.writeError(w, http.StatusNotFound, "missing_source", err.Error(), details)
	case errors.As(err, &statusErr):
		details["upstream_status"] = statusErr.Status
		details["url"] = statusErr.URL
		h.writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), details)
	case errors.As(err, &urlErr):
		details["url"] = urlErr.URL
		h.writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), details)
	case errors.As(err, &parseErr):
		h.writeError(w, http.StatusUnprocessableEntity, "parse_failed", err.Error(), details)
	case errors.Is(err, layers.ErrMissingDependency):
		h.writeError(w, http.StatusInternalServerError, "missing_dependency", err.Error(), details)
	default:
		h.log.Error().Err(err).Str("layer", string(key)).Msg("layer load failed")
		h.writeError(w, http.StatusBadGateway, "load_failed", err.Error(), details)
	}
}
