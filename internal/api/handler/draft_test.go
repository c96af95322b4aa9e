package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/model"
)

func TestDraftDeploy(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployDraftWorkflow")
	h := NewDraft(f.services.Drafts)

	rec := httptest.NewRecorder()
	h.Deploy(rec, withUser(newRequest("POST", "/drafts", map[string]string{"generatedAppId": "gen-1"}), "u1"))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var handle core.DraftHandle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handle))
	assert.Equal(t, "gen-1", handle.GeneratedAppID)
	assert.Equal(t, model.DraftStatusDeploying, handle.Status)
	assert.Equal(t, 7, handle.DaysUntilExpiry)
	assert.Nil(t, handle.PreviewURL)
	f.tc.AssertExpectations(t)
}

func TestDraftDeploy_OtherUser(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployDraftWorkflow")
	h := NewDraft(f.services.Drafts)

	rec := httptest.NewRecorder()
	h.Deploy(rec, withUser(newRequest("POST", "/drafts", map[string]string{"generatedAppId": "gen-1"}), "u1"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	h.Deploy(rec, withUser(newRequest("POST", "/drafts", map[string]string{"generatedAppId": "gen-1"}), "u2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_OWNER", decodeErrorResponse(rec)["code"])
}

func TestDraftDeploy_UnknownGeneratedApp(t *testing.T) {
	f := newFixture(t)
	h := NewDraft(f.services.Drafts)

	rec := httptest.NewRecorder()
	h.Deploy(rec, withUser(newRequest("POST", "/drafts", map[string]string{"generatedAppId": "gen-x"}), "u1"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDraftDeploy_MissingID(t *testing.T) {
	f := newFixture(t)
	h := NewDraft(f.services.Drafts)

	rec := httptest.NewRecorder()
	h.Deploy(rec, withUser(newRequestRaw("POST", "/drafts", `{"generated_app_id":"gen-1"}`), "u1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDraftDeploy_WorkflowStartFails(t *testing.T) {
	f := newFixture(t)
	f.failWorkflow("DeployDraftWorkflow")
	h := NewDraft(f.services.Drafts)

	rec := httptest.NewRecorder()
	h.Deploy(rec, withUser(newRequest("POST", "/drafts", map[string]string{"generatedAppId": "gen-1"}), "u1"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = httptest.NewRecorder()
	h.Get(rec, withChiURLParams(withUser(newRequest("GET", "/drafts/gen-1", nil), "u1"), map[string]string{"generatedAppID": "gen-1"}))
	require.Equal(t, http.StatusOK, rec.Code)
	var handle core.DraftHandle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handle))
	assert.Equal(t, model.DraftStatusFailed, handle.Status)
}

func TestDraftList(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployDraftWorkflow")
	h := NewDraft(f.services.Drafts)

	rec := httptest.NewRecorder()
	h.List(rec, withUser(newRequest("GET", "/drafts", nil), "u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())

	h.Deploy(httptest.NewRecorder(), withUser(newRequest("POST", "/drafts", map[string]string{"generatedAppId": "gen-1"}), "u1"))
	h.Deploy(httptest.NewRecorder(), withUser(newRequest("POST", "/drafts", map[string]string{"generatedAppId": "gen-own"}), "u2"))

	rec = httptest.NewRecorder()
	h.List(rec, withUser(newRequest("GET", "/drafts", nil), "u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []core.DraftHandle `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "gen-1", body.Items[0].GeneratedAppID)
}

func TestDraftGet_OtherUser(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployDraftWorkflow")
	h := NewDraft(f.services.Drafts)
	h.Deploy(httptest.NewRecorder(), withUser(newRequest("POST", "/drafts", map[string]string{"generatedAppId": "gen-1"}), "u1"))

	rec := httptest.NewRecorder()
	h.Get(rec, withChiURLParams(withUser(newRequest("GET", "/drafts/gen-1", nil), "u2"), map[string]string{"generatedAppID": "gen-1"}))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
