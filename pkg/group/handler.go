package group

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/klokku/hangouts/internal/rest"
	"github.com/klokku/hangouts/pkg/user"
	log "github.com/sirupsen/logrus"
)

type GroupDTO struct {
	Id             string    `json:"id"`
	Name           string    `json:"name"`
	Public         bool      `json:"public"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

type MembershipDTO struct {
	GroupId  string    `json:"groupId"`
	UserId   string    `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

type SubscriptionDTO struct {
	GroupId string `json:"groupId"`
	Token   string `json:"token"`
	Url     string `json:"url"`
}

type Handler struct {
	service Service
	host    string
}

// NewHandler builds the group endpoints. host prefixes the calendar subscription urls.
func NewHandler(service Service, host string) *Handler {
	return &Handler{service: service, host: strings.TrimSuffix(host, "/")}
}

// Create godoc
// @Summary Create a group
// @Tags Group
// @Accept json
// @Produce json
// @Param group body object{name=string,public=bool} true "Group"
// @Success 201 {object} GroupDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/groups [post]
// @Security XUserId
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string `json:"name"`
		Public bool   `json:"public"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	g, err := h.service.CreateGroup(r.Context(), body.Name, body.Public)
	if err != nil {
		WriteError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, groupToDTO(g))
}

// Get godoc
// @Summary Get a group
// @Tags Group
// @Produce json
// @Param groupId path string true "Group ID"
// @Success 200 {object} GroupDTO
// @Failure 403 {object} rest.ErrorResponse
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/groups/{groupId} [get]
// @Security XUserId
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.service.CheckAccess(r.Context(), mux.Vars(r)["groupId"])
	if err != nil {
		WriteError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, groupToDTO(g))
}

// AddMember godoc
// @Summary Add a member to a group
// @Tags Group
// @Produce json
// @Param groupId path string true "Group ID"
// @Param userId path string true "User ID"
// @Success 200 {object} MembershipDTO
// @Router /api/groups/{groupId}/members/{userId} [put]
// @Security XUserId
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	m, err := h.service.AddMember(r.Context(), vars["groupId"], vars["userId"])
	if err != nil {
		WriteError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, MembershipDTO{GroupId: m.GroupId, UserId: m.UserId, JoinedAt: m.JoinedAt})
}

// RemoveMember godoc
// @Summary Remove a member from a group
// @Description The member's calendar subscription stops working immediately.
// @Tags Group
// @Param groupId path string true "Group ID"
// @Param userId path string true "User ID"
// @Success 204
// @Router /api/groups/{groupId}/members/{userId} [delete]
// @Security XUserId
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.service.RemoveMember(r.Context(), vars["groupId"], vars["userId"]); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateSubscription godoc
// @Summary Create a calendar subscription
// @Description Issues a new secret calendar url for the caller. Any previous url of the caller stops working.
// @Tags Calendar
// @Produce json
// @Param groupId path string true "Group ID"
// @Success 201 {object} SubscriptionDTO
// @Failure 403 {object} rest.ErrorResponse
// @Router /api/groups/{groupId}/calendar/subscription [post]
// @Security XUserId
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	groupId := mux.Vars(r)["groupId"]
	token, err := h.service.CreateCalendarToken(r.Context(), groupId)
	if err != nil {
		WriteError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, h.subscription(groupId, token))
}

// ListSubscriptions godoc
// @Summary List the caller's calendar subscriptions in a group
// @Tags Calendar
// @Produce json
// @Param groupId path string true "Group ID"
// @Success 200 {array} SubscriptionDTO
// @Router /api/groups/{groupId}/calendar/subscription [get]
// @Security XUserId
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	groupId := mux.Vars(r)["groupId"]
	memberships, err := h.service.ListCalendarTokens(r.Context(), groupId)
	if err != nil {
		WriteError(w, err)
		return
	}
	subscriptions := make([]SubscriptionDTO, 0, len(memberships))
	for _, m := range memberships {
		subscriptions = append(subscriptions, h.subscription(groupId, m.CalendarToken))
	}
	rest.WriteJSON(w, http.StatusOK, subscriptions)
}

// DeleteSubscription godoc
// @Summary Revoke the caller's calendar subscription
// @Tags Calendar
// @Param groupId path string true "Group ID"
// @Success 204
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/groups/{groupId}/calendar/subscription [delete]
// @Security XUserId
func (h *Handler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteCalendarToken(r.Context(), mux.Vars(r)["groupId"]); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) subscription(groupId string, token string) SubscriptionDTO {
	return SubscriptionDTO{
		GroupId: groupId,
		Token:   token,
		Url:     fmt.Sprintf("%s/calendar/%s/%s.ics", h.host, groupId, token),
	}
}

// WriteError maps group and caller errors to HTTP responses.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, user.ErrNoUser):
		rest.WriteError(w, http.StatusUnauthorized, "Unknown caller", "")
	case errors.Is(err, ErrInvalidGroup):
		rest.WriteError(w, http.StatusBadRequest, "Invalid group", err.Error())
	case errors.Is(err, ErrForbidden):
		rest.WriteError(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, ErrGroupNotFound):
		rest.WriteError(w, http.StatusNotFound, "Group not found", "")
	case errors.Is(err, ErrMembershipNotFound):
		rest.WriteError(w, http.StatusNotFound, "Membership not found", "")
	case errors.Is(err, ErrTokenNotFound):
		rest.WriteError(w, http.StatusNotFound, "Calendar subscription not found", "")
	default:
		log.Errorf("group request failed: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Internal server error", "")
	}
}

func groupToDTO(g Group) GroupDTO {
	return GroupDTO{Id: g.Id, Name: g.Name, Public: g.Public, LastModifiedAt: g.LastModifiedAt}
}
