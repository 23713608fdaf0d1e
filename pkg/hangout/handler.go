package hangout

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klokku/hangouts/internal/rest"
	"github.com/klokku/hangouts/pkg/user"
	log "github.com/sirupsen/logrus"
)

type TimeSpecDTO struct {
	Kind   string     `json:"kind"`
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
	Period string     `json:"period,omitempty"`
	Date   string     `json:"date,omitempty"`
	Zone   string     `json:"zone,omitempty"`
}

type LocationDTO struct {
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type TicketingDTO struct {
	Url        string `json:"url"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
	SoldOut    bool   `json:"soldOut"`
}

type HangoutDTO struct {
	Id          string        `json:"id,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Visibility  string        `json:"visibility"`
	Carpool     bool          `json:"carpool"`
	Time        TimeSpecDTO   `json:"time"`
	StartTime   *time.Time    `json:"startTime,omitempty"`
	EndTime     *time.Time    `json:"endTime,omitempty"`
	Location    *LocationDTO  `json:"location,omitempty"`
	SeriesId    string        `json:"seriesId,omitempty"`
	GroupIds    []string      `json:"groupIds"`
	Ticketing   *TicketingDTO `json:"ticketing,omitempty"`
	CreatorId   string        `json:"creatorId,omitempty"`
	Version     int64         `json:"version,omitempty"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Create godoc
// @Summary Create a hangout
// @Tags Hangout
// @Accept json
// @Produce json
// @Param hangout body HangoutDTO true "Hangout"
// @Success 201 {object} HangoutDTO
// @Failure 400 {object} rest.ErrorResponse "Invalid hangout"
// @Failure 403 {object} rest.ErrorResponse "Not a member of a target group"
// @Router /api/hangouts [post]
// @Security XUserId
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var dto HangoutDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	created, err := h.service.CreateHangout(r.Context(), HangoutFromDTO(dto))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, HangoutToDTO(created))
}

// Get godoc
// @Summary Get a hangout
// @Tags Hangout
// @Produce json
// @Param hangoutId path string true "Hangout ID"
// @Success 200 {object} HangoutDTO
// @Failure 403 {object} rest.ErrorResponse
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/hangouts/{hangoutId} [get]
// @Security XUserId
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	found, _, err := h.service.GetHangout(r.Context(), mux.Vars(r)["hangoutId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, HangoutToDTO(found))
}

// Update godoc
// @Summary Update a hangout
// @Description Overwrites all editable fields. A non-empty groupIds replaces the group set.
// @Tags Hangout
// @Accept json
// @Produce json
// @Param hangoutId path string true "Hangout ID"
// @Param hangout body HangoutDTO true "Hangout"
// @Success 200 {object} HangoutDTO
// @Failure 400 {object} rest.ErrorResponse
// @Failure 403 {object} rest.ErrorResponse
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/hangouts/{hangoutId} [put]
// @Security XUserId
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var dto HangoutDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	hangout := HangoutFromDTO(dto)
	hangout.Id = mux.Vars(r)["hangoutId"]
	updated, err := h.service.UpdateHangout(r.Context(), hangout)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, HangoutToDTO(updated))
}

// Delete godoc
// @Summary Delete a hangout
// @Tags Hangout
// @Param hangoutId path string true "Hangout ID"
// @Success 204
// @Failure 403 {object} rest.ErrorResponse
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/hangouts/{hangoutId} [delete]
// @Security XUserId
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteHangout(r.Context(), mux.Vars(r)["hangoutId"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AssociateGroup godoc
// @Summary Show a hangout in one more group
// @Tags Hangout
// @Produce json
// @Param hangoutId path string true "Hangout ID"
// @Param groupId path string true "Group ID"
// @Success 200 {object} HangoutDTO
// @Router /api/hangouts/{hangoutId}/groups/{groupId} [put]
// @Security XUserId
func (h *Handler) AssociateGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	updated, err := h.service.AssociateGroup(r.Context(), vars["hangoutId"], vars["groupId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, HangoutToDTO(updated))
}

// DisassociateGroup godoc
// @Summary Remove a hangout from a group
// @Tags Hangout
// @Param hangoutId path string true "Hangout ID"
// @Param groupId path string true "Group ID"
// @Success 204
// @Router /api/hangouts/{hangoutId}/groups/{groupId} [delete]
// @Security XUserId
func (h *Handler) DisassociateGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.service.DisassociateGroup(r.Context(), vars["hangoutId"], vars["groupId"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddPoll godoc
// @Summary Add a poll to a hangout
// @Tags Hangout
// @Accept json
// @Produce json
// @Param hangoutId path string true "Hangout ID"
// @Param poll body object{question=string,options=[]string} true "Poll"
// @Success 201 {object} PollDTO
// @Router /api/hangouts/{hangoutId}/polls [post]
// @Security XUserId
func (h *Handler) AddPoll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
	if !decode(w, r, &body) {
		return
	}
	poll, err := h.service.AddPoll(r.Context(), mux.Vars(r)["hangoutId"], body.Question, body.Options)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	dto := PollDTO{Id: poll.Id, Question: poll.Question, Options: make([]PollOptionDTO, 0, len(poll.Options))}
	for _, option := range poll.Options {
		dto.Options = append(dto.Options, PollOptionDTO{Id: option.Id, Text: option.Text})
	}
	rest.WriteJSON(w, http.StatusCreated, dto)
}

type PollDTO struct {
	Id       string          `json:"id"`
	Question string          `json:"question"`
	Options  []PollOptionDTO `json:"options"`
}

type PollOptionDTO struct {
	Id   string `json:"id"`
	Text string `json:"text"`
}

// CastVote godoc
// @Summary Vote in a poll
// @Tags Hangout
// @Accept json
// @Param hangoutId path string true "Hangout ID"
// @Param pollId path string true "Poll ID"
// @Param vote body object{optionId=string} true "Chosen option"
// @Success 204
// @Router /api/hangouts/{hangoutId}/polls/{pollId}/vote [put]
// @Security XUserId
func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OptionId string `json:"optionId"`
	}
	if !decode(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	noContent(w, h.service.CastVote(r.Context(), vars["hangoutId"], vars["pollId"], body.OptionId))
}

// RemoveVote godoc
// @Summary Withdraw a vote
// @Tags Hangout
// @Param hangoutId path string true "Hangout ID"
// @Param pollId path string true "Poll ID"
// @Success 204
// @Router /api/hangouts/{hangoutId}/polls/{pollId}/vote [delete]
// @Security XUserId
func (h *Handler) RemoveVote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	noContent(w, h.service.RemoveVote(r.Context(), vars["hangoutId"], vars["pollId"]))
}

// AddCar godoc
// @Summary Offer a car with the caller as driver
// @Tags Hangout
// @Accept json
// @Produce json
// @Param hangoutId path string true "Hangout ID"
// @Param car body object{seats=int,note=string} true "Car"
// @Success 201 {object} object{id=string,seats=int,note=string}
// @Router /api/hangouts/{hangoutId}/cars [post]
// @Security XUserId
func (h *Handler) AddCar(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seats int    `json:"seats"`
		Note  string `json:"note"`
	}
	if !decode(w, r, &body) {
		return
	}
	car, err := h.service.AddCar(r.Context(), mux.Vars(r)["hangoutId"], body.Seats, body.Note)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, map[string]any{"id": car.Id, "seats": car.Seats, "note": car.Note})
}

// JoinCar godoc
// @Summary Take a seat in a car
// @Tags Hangout
// @Param hangoutId path string true "Hangout ID"
// @Param carId path string true "Car ID"
// @Success 204
// @Failure 409 {object} rest.ErrorResponse "Car is full"
// @Router /api/hangouts/{hangoutId}/cars/{carId}/riders/me [put]
// @Security XUserId
func (h *Handler) JoinCar(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	noContent(w, h.service.JoinCar(r.Context(), vars["hangoutId"], vars["carId"]))
}

// LeaveCar godoc
// @Summary Give up a seat in a car
// @Tags Hangout
// @Param hangoutId path string true "Hangout ID"
// @Param carId path string true "Car ID"
// @Success 204
// @Router /api/hangouts/{hangoutId}/cars/{carId}/riders/me [delete]
// @Security XUserId
func (h *Handler) LeaveCar(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	noContent(w, h.service.LeaveCar(r.Context(), vars["hangoutId"], vars["carId"]))
}

// RequestRide godoc
// @Summary Ask for a ride
// @Tags Hangout
// @Accept json
// @Param hangoutId path string true "Hangout ID"
// @Param request body object{note=string} true "Ride request"
// @Success 204
// @Router /api/hangouts/{hangoutId}/ride-request [put]
// @Security XUserId
func (h *Handler) RequestRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if !decode(w, r, &body) {
		return
	}
	noContent(w, h.service.RequestRide(r.Context(), mux.Vars(r)["hangoutId"], body.Note))
}

// SetAttribute godoc
// @Summary Set a free-form attribute
// @Tags Hangout
// @Accept json
// @Param hangoutId path string true "Hangout ID"
// @Param key path string true "Attribute key"
// @Param attribute body object{value=string} true "Value"
// @Success 204
// @Router /api/hangouts/{hangoutId}/attributes/{key} [put]
// @Security XUserId
func (h *Handler) SetAttribute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if !decode(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	noContent(w, h.service.SetAttribute(r.Context(), vars["hangoutId"], vars["key"], body.Value))
}

// SetInterest godoc
// @Summary Set the caller's interest level
// @Tags Hangout
// @Accept json
// @Param hangoutId path string true "Hangout ID"
// @Param interest body object{level=string} true "going, interested or not_going"
// @Success 204
// @Router /api/hangouts/{hangoutId}/interest [put]
// @Security XUserId
func (h *Handler) SetInterest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Level string `json:"level"`
	}
	if !decode(w, r, &body) {
		return
	}
	noContent(w, h.service.SetInterest(r.Context(), mux.Vars(r)["hangoutId"], Interest(body.Level)))
}

func decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return false
	}
	return true
}

func noContent(w http.ResponseWriter, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, user.ErrNoUser):
		rest.WriteError(w, http.StatusUnauthorized, "Unknown caller", "")
	case errors.Is(err, ErrInvalidHangout), errors.Is(err, ErrInvalidTimeSpec), errors.Is(err, ErrUnknownGroup):
		rest.WriteError(w, http.StatusBadRequest, "Invalid hangout", err.Error())
	case errors.Is(err, ErrForbidden):
		rest.WriteError(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrHangoutNotFound):
		rest.WriteError(w, http.StatusNotFound, "Hangout not found", "")
	case errors.Is(err, ErrChildNotFound):
		rest.WriteError(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, ErrCarFull):
		rest.WriteError(w, http.StatusConflict, "Car is full", "")
	default:
		log.Errorf("hangout request failed: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Internal server error", "")
	}
}

func HangoutFromDTO(dto HangoutDTO) Hangout {
	h := Hangout{
		Id:          dto.Id,
		Title:       dto.Title,
		Description: dto.Description,
		Visibility:  Visibility(dto.Visibility),
		Carpool:     dto.Carpool,
		TimeSpec: TimeSpec{
			Kind:   TimeKind(dto.Time.Kind),
			Start:  dto.Time.Start,
			End:    dto.Time.End,
			Period: Period(dto.Time.Period),
			Date:   dto.Time.Date,
			Zone:   dto.Time.Zone,
		},
		SeriesId: dto.SeriesId,
		GroupIds: dto.GroupIds,
	}
	if h.Visibility == "" {
		h.Visibility = VisibilityMembers
	}
	if dto.Location != nil {
		h.Location = &Location{
			Name:      dto.Location.Name,
			Address:   dto.Location.Address,
			Latitude:  dto.Location.Latitude,
			Longitude: dto.Location.Longitude,
		}
	}
	if dto.Ticketing != nil {
		h.Ticketing = &Ticketing{
			Url:        dto.Ticketing.Url,
			PriceCents: dto.Ticketing.PriceCents,
			Currency:   dto.Ticketing.Currency,
			SoldOut:    dto.Ticketing.SoldOut,
		}
	}
	return h
}

func HangoutToDTO(h Hangout) HangoutDTO {
	dto := HangoutDTO{
		Id:          h.Id,
		Title:       h.Title,
		Description: h.Description,
		Visibility:  string(h.Visibility),
		Carpool:     h.Carpool,
		Time: TimeSpecDTO{
			Kind:   string(h.TimeSpec.Kind),
			Start:  h.TimeSpec.Start,
			End:    h.TimeSpec.End,
			Period: string(h.TimeSpec.Period),
			Date:   h.TimeSpec.Date,
			Zone:   h.TimeSpec.Zone,
		},
		StartTime: h.StartTime,
		EndTime:   h.EndTime,
		SeriesId:  h.SeriesId,
		GroupIds:  h.GroupIds,
		CreatorId: h.CreatorId,
		Version:   h.Version,
	}
	if dto.GroupIds == nil {
		dto.GroupIds = []string{}
	}
	if h.Location != nil {
		dto.Location = &LocationDTO{
			Name:      h.Location.Name,
			Address:   h.Location.Address,
			Latitude:  h.Location.Latitude,
			Longitude: h.Location.Longitude,
		}
	}
	if h.Ticketing != nil {
		dto.Ticketing = &TicketingDTO{
			Url:        h.Ticketing.Url,
			PriceCents: h.Ticketing.PriceCents,
			Currency:   h.Ticketing.Currency,
			SoldOut:    h.Ticketing.SoldOut,
		}
	}
	return dto
}
