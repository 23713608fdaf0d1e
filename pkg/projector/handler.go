package projector

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/klokku/hangouts/internal/rest"
	log "github.com/sirupsen/logrus"
)

type ReconcileResultDTO struct {
	Sweep    SweepReport `json:"sweep"`
	Repaired int         `json:"repaired"`
}

type PointerStateDTO struct {
	GroupId   string       `json:"groupId"`
	HangoutId string       `json:"hangoutId"`
	State     PointerState `json:"state"`
}

type Handler struct {
	reconciler *Reconciler
}

func NewHandler(reconciler *Reconciler) *Handler {
	return &Handler{reconciler: reconciler}
}

// Reconcile godoc
// @Summary Run pointer repair and a reconciliation sweep now
// @Tags Admin
// @Produce json
// @Success 200 {object} ReconcileResultDTO
// @Failure 500 {object} rest.ErrorResponse
// @Router /api/admin/reconcile [post]
// @Security XUserId
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	repaired, err := h.reconciler.ProcessRepairs(r.Context())
	if err != nil {
		log.Errorf("manual pointer repair failed: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Pointer repair failed", "")
		return
	}
	report, err := h.reconciler.Sweep(r.Context())
	if err != nil {
		log.Errorf("manual reconciliation failed: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Reconciliation failed", "")
		return
	}
	rest.WriteJSON(w, http.StatusOK, ReconcileResultDTO{Sweep: report, Repaired: repaired})
}

// State godoc
// @Summary Get the projection state of one group pointer
// @Tags Admin
// @Produce json
// @Param groupId path string true "Group ID"
// @Param hangoutId path string true "Hangout ID"
// @Success 200 {object} PointerStateDTO
// @Router /api/admin/pointers/{groupId}/{hangoutId} [get]
// @Security XUserId
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	state, err := h.reconciler.State(r.Context(), vars["groupId"], vars["hangoutId"])
	if err != nil {
		log.Errorf("failed to read pointer state: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}
	rest.WriteJSON(w, http.StatusOK, PointerStateDTO{GroupId: vars["groupId"], HangoutId: vars["hangoutId"], State: state})
}
