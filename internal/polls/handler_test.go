package polls

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/classpoll/internal/models"
)

func newTestRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(m, nil, nil)
	r := gin.New()
	r.GET("/polls/active", h.Active)
	r.GET("/polls/history", h.History)
	r.GET("/polls/:id/results", h.Results)
	r.GET("/polls/:id/archive-url", h.ArchiveURL)
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHandlerActive(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env.m)

	w := get(r, "/polls/active")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"poll":null}}`, w.Body.String())

	p, err := env.m.StartPoll(context.Background(), colorDraft(60), 0)
	require.NoError(t, err)

	w = get(r, "/polls/active")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			Poll          models.Poll `json:"poll"`
			TimeRemaining int         `json:"timeRemaining"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, p.ID, body.Data.Poll.ID)
	assert.Equal(t, 60, body.Data.TimeRemaining)
}

func TestHandlerResults(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env.m)

	assert.Equal(t, http.StatusBadRequest, get(r, "/polls/nope/results").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/polls/"+uuid.NewString()+"/results").Code)

	p, err := env.m.StartPoll(context.Background(), colorDraft(60), 0)
	require.NoError(t, err)
	w := get(r, "/polls/"+p.ID.String()+"/results")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data models.Results `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data.Results, 2)
	assert.Equal(t, 0, body.Data.TotalVotes)
}

func TestHandlerArchiveURLWithoutStorage(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env.m)
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/polls/"+uuid.NewString()+"/archive-url").Code)
}

func TestHandlerHistory(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env.m)
	w := get(r, "/polls/history")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, w.Body.String())
}
