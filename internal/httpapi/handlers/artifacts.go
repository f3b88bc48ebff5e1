package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"edcomposer/internal/artifacts"
	"edcomposer/internal/pkg/errors"
)

// GetArtifact streams the stored output of a finished render.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	renderID := chi.URLParam(r, "renderId")

	if h.sp == nil {
		return errors.Unavailable("artifact storage")
	}
	stored, ok := h.session.Artifact(renderID)
	if !ok {
		return errors.NotFound("artifact", renderID)
	}

	rc, ct, size, err := h.sp.GetObject(ctx, stored.ObjectKey)
	if err != nil {
		return errors.Wrap(err, "handlers.GetArtifact", "artifact file missing")
	}
	defer rc.Close()

	if ct == "" {
		ct = stored.ContentType
	}
	if size <= 0 {
		size = stored.Size
	}

	w.Header().Set("Content-Type", ct)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.Header().Set("Content-Disposition",
		`inline; filename="`+artifacts.SanitizeFilename(renderID)+artifacts.ExtFromMime(ct)+`"`)

	if _, err := io.Copy(w, rc); err != nil {
		h.log.FromContext(ctx).Warn("artifact stream interrupted", "render_id", renderID, "error", err.Error())
	}
	return nil
}
