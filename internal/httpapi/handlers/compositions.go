package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"edcomposer/internal/httpkit"
	"edcomposer/internal/models"
	"edcomposer/internal/pkg/errors"
)

// CompositionView adds derived fields to a catalog entry.
type CompositionView struct {
	models.Composition
	DurationSeconds float64 `json:"durationSeconds"`
}

func newCompositionView(c models.Composition) CompositionView {
	return CompositionView{Composition: c, DurationSeconds: c.DurationSeconds()}
}

func (h *Handler) ListCompositions(w http.ResponseWriter, r *http.Request) error {
	items, err := h.session.Catalog().List(r.Context())
	if err != nil {
		return err
	}

	views := make([]CompositionView, 0, len(items))
	for _, it := range items {
		views = append(views, newCompositionView(it))
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"compositions": views})
	return nil
}

func (h *Handler) GetComposition(w http.ResponseWriter, r *http.Request) error {
	it, err := h.session.Catalog().Get(r.Context(), chi.URLParam(r, "compositionId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"composition": newCompositionView(it)})
	return nil
}

// CreateComposition registers a composition in the store. It becomes
// renderable at once.
func (h *Handler) CreateComposition(w http.ResponseWriter, r *http.Request) error {
	if h.store == nil {
		return errors.Unavailable("composition store")
	}
	var c models.Composition
	if err := httpkit.DecodeJSON(r, &c); err != nil {
		return err
	}
	c.CreatedAt, c.DeletedAt = time.Time{}, nil

	if err := h.store.Create(r.Context(), &c); err != nil {
		return err
	}
	h.log.FromContext(r.Context()).Info("composition created", "composition_id", c.ID)
	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{"composition": newCompositionView(c)})
	return nil
}

// DeleteComposition removes a stored composition. Builtin compositions stay
// renderable through the static catalog.
func (h *Handler) DeleteComposition(w http.ResponseWriter, r *http.Request) error {
	if h.store == nil {
		return errors.Unavailable("composition store")
	}
	id := chi.URLParam(r, "compositionId")
	if err := h.store.Delete(r.Context(), id); err != nil {
		return err
	}
	h.log.FromContext(r.Context()).Info("composition deleted", "composition_id", id)
	w.WriteHeader(http.StatusNoContent)
	return nil
}
