package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/cfpdesk/internal/models"
)

type apiResponse struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"errorMessage"`
}

func call(t *testing.T, srv *httptest.Server, method, path, token, body string) (int, apiResponse) {
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("token", token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var ret apiResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&ret))
	return res.StatusCode, ret
}

func TestHTTPProposalFlow(t *testing.T) {
	env := newTestEnv(t)
	u := &models.User{Email: "grace@example.com", Name: "Grace"}
	require.NoError(t, u.SetPassword("hopper"))
	require.NoError(t, env.store.Repos().Users.Create(u))
	srv := httptest.NewServer(MakeHTTPHandler(env.Services, env.logger))
	defer srv.Close()

	status, res := call(t, srv, http.MethodPost, "/api/login", "", `{"email":"grace@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, ErrCodeLoginFailed, res.Error)

	status, res = call(t, srv, http.MethodPost, "/api/login", "", `{"email":"grace@example.com","password":"hopper"}`)
	require.Equal(t, http.StatusOK, status)
	var info SessionInfo
	require.NoError(t, json.Unmarshal(res.Data, &info))
	require.NotEmpty(t, info.SessionID)

	status, res = call(t, srv, http.MethodPost, "/api/proposals", "", `{"type":"talk","title":"Compilers"}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, ErrCodeNotLoggedIn, res.Error)

	status, res = call(t, srv, http.MethodPost, "/api/proposals", info.SessionID, `{"type":"talk",`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, ErrCodeIllegalJSON, res.Error)

	status, res = call(t, srv, http.MethodPost, "/api/proposals", info.SessionID, `{"type":"talk","title":"Compilers"}`)
	require.Equal(t, http.StatusOK, status)
	var created models.Proposal
	require.NoError(t, json.Unmarshal(res.Data, &created))
	assert.Equal(t, models.StateNew, created.State)
	assert.Equal(t, u.ID, created.UserID)

	path := fmt.Sprintf("/api/proposals/%d", created.ID)
	status, res = call(t, srv, http.MethodGet, path, info.SessionID, "")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, res.OK)

	status, res = call(t, srv, http.MethodPost, path+"/check", info.SessionID, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, ErrCodeForbidden, res.Error)

	status, res = call(t, srv, http.MethodPost, path+"/withdraw", info.SessionID, `{"text":"Changed my mind"}`)
	require.Equal(t, http.StatusOK, status, res.Message)
	assert.Equal(t, models.StateWithdrawn, env.get(t, created.ID).State)
}

func TestHTTPScheduleExport(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(MakeHTTPHandler(env.Services, env.logger))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/schedule.ics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, err = http.Get(srv.URL + "/schedule." + FormatICal)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, ExportFormats[FormatICal], res.Header.Get("Content-Type"))
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "BEGIN:VCALENDAR")
}
