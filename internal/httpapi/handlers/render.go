package handlers

import (
	"net/http"

	"edcomposer/internal/events"
	"edcomposer/internal/httpkit"
	"edcomposer/internal/render"
)

type StartRenderRequest struct {
	CompositionID string         `json:"compositionId"`
	InputProps    map[string]any `json:"inputProps"`
}

type RenderResponse struct {
	Snapshot    render.Snapshot `json:"snapshot"`
	LastOutcome *events.Outcome `json:"lastOutcome,omitempty"`
}

type CancelResponse struct {
	Cancelled bool            `json:"cancelled"`
	Snapshot  render.Snapshot `json:"snapshot"`
}

// StartRender begins a render, superseding the live one.
func (h *Handler) StartRender(w http.ResponseWriter, r *http.Request) error {
	var req StartRenderRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return err
	}

	snap, err := h.session.Start(r.Context(), req.CompositionID, req.InputProps)
	if err != nil {
		return err
	}

	h.log.FromContext(r.Context()).Info("render started",
		"render_id", snap.RenderID,
		"epoch", snap.Epoch,
		"composition_id", req.CompositionID,
	)
	httpkit.WriteJSON(w, http.StatusAccepted, RenderResponse{Snapshot: snap})
	return nil
}

// CancelRender stops the live render. Cancelling while idle or finished is
// not an error.
func (h *Handler) CancelRender(w http.ResponseWriter, r *http.Request) error {
	cancelled := h.session.Cancel()
	httpkit.WriteJSON(w, http.StatusOK, CancelResponse{
		Cancelled: cancelled,
		Snapshot:  h.session.Snapshot(),
	})
	return nil
}

func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) error {
	resp := RenderResponse{Snapshot: h.session.Snapshot()}
	if out, ok := h.session.LastOutcome(); ok {
		resp.LastOutcome = &out
	}
	httpkit.WriteJSON(w, http.StatusOK, resp)
	return nil
}
