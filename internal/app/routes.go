package app

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {

	// Groups
	r.HandleFunc("/api/groups", deps.GroupHandler.Create).Methods("POST")
	r.HandleFunc("/api/groups/{groupId}", deps.GroupHandler.Get).Methods("GET")
	r.HandleFunc("/api/groups/{groupId}/members/{userId}", deps.GroupHandler.AddMember).Methods("PUT")
	r.HandleFunc("/api/groups/{groupId}/members/{userId}", deps.GroupHandler.RemoveMember).Methods("DELETE")

	// Feed
	r.HandleFunc("/api/groups/{groupId}/feed", deps.FeedHandler.GetFeed).Methods("GET")

	// Calendar subscription
	r.HandleFunc("/api/groups/{groupId}/calendar/subscription", deps.GroupHandler.CreateSubscription).Methods("POST")
	r.HandleFunc("/api/groups/{groupId}/calendar/subscription", deps.GroupHandler.ListSubscriptions).Methods("GET")
	r.HandleFunc("/api/groups/{groupId}/calendar/subscription", deps.GroupHandler.DeleteSubscription).Methods("DELETE")
	r.HandleFunc("/calendar/{groupId}/{token:[A-Za-z0-9]+}.ics", deps.CalendarHandler.GetCalendar).Methods("GET")

	// Hangouts
	r.HandleFunc("/api/hangouts", deps.HangoutHandler.Create).Methods("POST")
	r.HandleFunc("/api/hangouts/{hangoutId}", deps.HangoutHandler.Get).Methods("GET")
	r.HandleFunc("/api/hangouts/{hangoutId}", deps.HangoutHandler.Update).Methods("PUT")
	r.HandleFunc("/api/hangouts/{hangoutId}", deps.HangoutHandler.Delete).Methods("DELETE")
	r.HandleFunc("/api/hangouts/{hangoutId}/groups/{groupId}", deps.HangoutHandler.AssociateGroup).Methods("PUT")
	r.HandleFunc("/api/hangouts/{hangoutId}/groups/{groupId}", deps.HangoutHandler.DisassociateGroup).Methods("DELETE")

	// Hangout details
	r.HandleFunc("/api/hangouts/{hangoutId}/polls", deps.HangoutHandler.AddPoll).Methods("POST")
	r.HandleFunc("/api/hangouts/{hangoutId}/polls/{pollId}/vote", deps.HangoutHandler.CastVote).Methods("PUT")
	r.HandleFunc("/api/hangouts/{hangoutId}/polls/{pollId}/vote", deps.HangoutHandler.RemoveVote).Methods("DELETE")
	r.HandleFunc("/api/hangouts/{hangoutId}/cars", deps.HangoutHandler.AddCar).Methods("POST")
	r.HandleFunc("/api/hangouts/{hangoutId}/cars/{carId}/riders/me", deps.HangoutHandler.JoinCar).Methods("PUT")
	r.HandleFunc("/api/hangouts/{hangoutId}/cars/{carId}/riders/me", deps.HangoutHandler.LeaveCar).Methods("DELETE")
	r.HandleFunc("/api/hangouts/{hangoutId}/ride-request", deps.HangoutHandler.RequestRide).Methods("PUT")
	r.HandleFunc("/api/hangouts/{hangoutId}/attributes/{key}", deps.HangoutHandler.SetAttribute).Methods("PUT")
	r.HandleFunc("/api/hangouts/{hangoutId}/interest", deps.HangoutHandler.SetInterest).Methods("PUT")

	// Pointer administration
	r.HandleFunc("/api/admin/reconcile", deps.ProjectorHandler.Reconcile).Methods("POST")
	r.HandleFunc("/api/admin/pointers/{groupId}/{hangoutId}", deps.ProjectorHandler.State).Methods("GET")
}
