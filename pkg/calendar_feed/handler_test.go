package calendar_feed

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveCalendar(f fixture, target string, ifNoneMatch string) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	handler := NewHandler(f.service, NewICalEncoder("-//test//hangouts//EN"))
	router.HandleFunc("/calendar/{groupId}/{token:[A-Za-z0-9]+}.ics", handler.GetCalendar).Methods(http.MethodGet)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_GetCalendar(t *testing.T) {
	t.Run("should serve the calendar and then not modified", func(t *testing.T) {
		// given
		f := setupCalendar(t, 10)
		g, token := f.subscribe(t)
		f.put(t, g.Id, "h1", now.Add(time.Hour))
		target := "/calendar/" + g.Id + "/" + token + ".ics"

		// when
		first := serveCalendar(f, target, "")
		second := serveCalendar(f, target, first.Header().Get("ETag"))

		// then
		require.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, "text/calendar; charset=utf-8", first.Header().Get("Content-Type"))
		assert.Contains(t, first.Body.String(), "BEGIN:VCALENDAR")
		assert.NotEmpty(t, first.Header().Get("ETag"))
		assert.Equal(t, http.StatusNotModified, second.Code)
		assert.Empty(t, second.Body.String())
		assert.Equal(t, first.Header().Get("ETag"), second.Header().Get("ETag"))
	})

	t.Run("should map token errors", func(t *testing.T) {
		// given
		f := setupCalendar(t, 10)
		g, token := f.subscribe(t)
		other, _ := f.subscribe(t)

		// when
		unknown := serveCalendar(f, "/calendar/"+g.Id+"/unknown.ics", "")
		foreign := serveCalendar(f, "/calendar/"+other.Id+"/"+token+".ics", "")

		// then
		assert.Equal(t, http.StatusNotFound, unknown.Code)
		assert.Equal(t, http.StatusForbidden, foreign.Code)
	})
}
