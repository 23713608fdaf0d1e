package feed

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/klokku/hangouts/internal/rest"
	"github.com/klokku/hangouts/pkg/cursor"
	"github.com/klokku/hangouts/pkg/group"
	"github.com/klokku/hangouts/pkg/pointer"
)

type FeedDTO struct {
	Scheduled            []pointer.Pointer `json:"scheduled"`
	Unscheduled          []pointer.Pointer `json:"unscheduled"`
	UnscheduledTruncated bool              `json:"unscheduledTruncated,omitempty"`
	NextCursor           string            `json:"nextCursor,omitempty"`
	PrevCursor           string            `json:"prevCursor,omitempty"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// GetFeed godoc
// @Summary Get a page of the group feed
// @Description Scheduled hangouts from now on, ordered by start time and hangout id, plus unscheduled hangouts. unscheduledTruncated marks a capped unscheduled list.
// @Tags Feed
// @Produce json
// @Param groupId path string true "Group ID"
// @Param limit query int false "Page size"
// @Param startingAfter query string false "Cursor to continue forward from"
// @Param endingBefore query string false "Cursor to continue backward from"
// @Success 200 {object} FeedDTO
// @Failure 400 {object} rest.ErrorResponse
// @Failure 403 {object} rest.ErrorResponse
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/groups/{groupId}/feed [get]
// @Security XUserId
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	groupId := mux.Vars(r)["groupId"]
	query := r.URL.Query()

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			rest.WriteError(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	feed, err := h.service.GetFeed(r.Context(), groupId, limit, query.Get("startingAfter"), query.Get("endingBefore"))
	if err != nil {
		switch {
		case errors.Is(err, cursor.ErrInvalidCursor):
			rest.WriteError(w, http.StatusBadRequest, "Invalid cursor", err.Error())
		case errors.Is(err, ErrConflictingCursors):
			rest.WriteError(w, http.StatusBadRequest, "Invalid cursor", err.Error())
		default:
			group.WriteError(w, err)
		}
		return
	}

	rest.WriteJSON(w, http.StatusOK, FeedDTO{
		Scheduled:            feed.Scheduled,
		Unscheduled:          feed.Unscheduled,
		UnscheduledTruncated: feed.UnscheduledTruncated,
		NextCursor:           feed.NextCursor,
		PrevCursor:           feed.PrevCursor,
	})
}
