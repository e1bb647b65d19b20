// Package api exposes the geofence store and containment engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mycobrun/geofence-service/auth"
	"github.com/mycobrun/geofence-service/errors"
	"github.com/mycobrun/geofence-service/geo"
	"github.com/mycobrun/geofence-service/geofence"
	pkghttp "github.com/mycobrun/geofence-service/http"
	"github.com/mycobrun/geofence-service/logging"
	"github.com/mycobrun/geofence-service/telemetry"
	"github.com/mycobrun/geofence-service/validation"
)

const maxBodyBytes = 1 << 20

// Handlers serves the geofence routes.
type Handlers struct {
	store  *geofence.Store
	engine *geofence.Engine
	audit  *logging.AuditLogger
	logger *logging.Logger
}

// NewHandlers creates the route handlers. audit may be nil.
func NewHandlers(store *geofence.Store, engine *geofence.Engine, audit *logging.AuditLogger, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handlers{store: store, engine: engine, audit: audit, logger: logger}
}

// Create handles POST /geofences.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateGeofenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ring, err := geo.RingFromCoordinates(req.Coordinates)
	if err != nil {
		h.writeError(w, r, errors.MalformedGeometry(err))
		return
	}

	g, err := h.store.Create(r.Context(), req.Name, ring, req.Metadata)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.audit.LogGeofenceChange(r, logging.AuditEventGeofenceCreated, auth.SubjectFromContext(r.Context()), g.ID)
	pkghttp.Created(w, toResponse(g))
}

// List handles GET /geofences/list.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]GeofenceResponse, 0, len(all))
	for _, g := range all {
		out = append(out, toResponse(g))
	}
	pkghttp.OK(w, out)
}

// Get handles GET /geofences/{id}.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, err := geofenceID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	g, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pkghttp.OK(w, toResponse(g))
}

// Update handles PUT /geofences/{id}.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	id, err := geofenceID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req UpdateGeofenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	patch := geofence.Patch{Name: req.Name, Metadata: req.Metadata}
	if req.Coordinates != nil {
		ring, err := geo.RingFromCoordinates(req.Coordinates)
		if err != nil {
			h.writeError(w, r, errors.MalformedGeometry(err))
			return
		}
		patch.Polygon = ring
	}

	g, err := h.store.Update(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.audit.LogGeofenceChange(r, logging.AuditEventGeofenceUpdated, auth.SubjectFromContext(r.Context()), g.ID)
	pkghttp.OK(w, toResponse(g))
}

// Delete handles DELETE /geofences/{id}.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := geofenceID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.audit.LogGeofenceChange(r, logging.AuditEventGeofenceDeleted, auth.SubjectFromContext(r.Context()), id)
	pkghttp.OK(w, DeleteResponse{Detail: "Geofence deleted", ID: id})
}

// Status handles POST /geofences/status.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	matches, err := h.engine.Query(r.Context(), geo.NewPoint(*req.Lon, *req.Lat))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pkghttp.OK(w, StatusResponse{Status: true, InsideGeofences: matches})
}

func geofenceID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.BadRequest("geofence id must be an integer")
	}
	return id, nil
}

// decodeJSON reads a single JSON object. Unknown fields are ignored.
// Type errors and null values on the coordinates field surface as malformed
// geometry.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	err := dec.Decode(dst)
	if err == nil {
		if dec.More() {
			return errors.BadRequest("request body must contain a single JSON object")
		}
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case stderrors.Is(err, geo.ErrMalformedGeometry):
		return errors.MalformedGeometry(err)
	case stderrors.As(err, &typeErr):
		if strings.HasPrefix(typeErr.Field, "coordinates") {
			return errors.MalformedGeometry(err)
		}
		field := typeErr.Field
		if field == "" {
			return errors.BadRequest("request body must be a JSON object")
		}
		return errors.ValidationWithDetails("invalid field type", map[string]string{
			field: "must be of type " + typeErr.Type.String(),
		})
	case stderrors.As(err, &maxErr):
		return errors.BadRequest("request body too large")
	case stderrors.Is(err, io.EOF):
		return errors.BadRequest("request body is required")
	default:
		return errors.BadRequest("invalid JSON body")
	}
}

// writeError renders err. Context errors become TIMEOUT; anything without a
// code is logged and rendered as INTERNAL_ERROR.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Code(err) == "" {
		switch {
		case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
			err = errors.Timeout("request cancelled")
		case stderrors.Is(err, geo.ErrMalformedGeometry):
			err = errors.MalformedGeometry(err)
		}
	}
	if code := errors.Code(err); code == "" || code == errors.CodeInternal {
		h.logger.WithRequestID(pkghttp.GetRequestID(r.Context())).WithError(err).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
		)
	}
	errors.WriteError(w, err, telemetry.TraceID(r.Context()))
}
