package calendar_feed

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/klokku/hangouts/pkg/group"
	log "github.com/sirupsen/logrus"
)

type Handler struct {
	service     Service
	contentType string
}

func NewHandler(service Service, encoder Encoder) *Handler {
	return &Handler{service: service, contentType: encoder.ContentType()}
}

// GetCalendar godoc
// @Summary Calendar subscription of a group
// @Description Public, authorized by the subscription token. Honors If-None-Match.
// @Tags Calendar
// @Produce text/calendar
// @Param groupId path string true "Group ID"
// @Param token path string true "Subscription token"
// @Success 200 {string} string "iCalendar body"
// @Success 304
// @Failure 403 {object} rest.ErrorResponse
// @Failure 404 {object} rest.ErrorResponse
// @Router /calendar/{groupId}/{token}.ics [get]
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	result, err := h.service.GetCalendarFeed(r.Context(), vars["groupId"], vars["token"], r.Header.Get("If-None-Match"))
	if err != nil {
		group.WriteError(w, err)
		return
	}

	w.Header().Set("ETag", result.ETag)
	w.Header().Set("Cache-Control", "no-cache")
	if result.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", h.contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(result.Body)); err != nil {
		log.Errorf("failed to write calendar of group %s: %v", vars["groupId"], err)
	}
}
