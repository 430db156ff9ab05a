package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/deploy"
)

// CreateDeployRequest is the body of a deploy request.
type CreateDeployRequest struct {
	Reference        string `json:"reference"`
	BypassBuddyCheck bool   `json:"bypass_buddy_check,omitempty"`
}

// DeployResponse describes a deploy and whether it still waits for a buddy.
type DeployResponse struct {
	*deploy.Deploy
	WaitingForBuddy bool `json:"waiting_for_buddy"`
}

func deployResponse(d *deploy.Deploy) DeployResponse {
	return DeployResponse{Deploy: d, WaitingForBuddy: d.WaitingForBuddy()}
}

func (a *API) createDeploy(w http.ResponseWriter, r *http.Request) {
	var req CreateDeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeErr(w, fmt.Errorf("decode body: %v: %w", err, samson.ErrInvalidRequest))
		return
	}
	d, _, err := a.eng.Deploys().Deploy(r.Context(), deploy.Request{
		ProjectID: chi.URLParam(r, "project"),
		StageID:   chi.URLParam(r, "stage"),
		Reference: req.Reference,
		User:      userFrom(r),
		Bypass:    req.BypassBuddyCheck,
	})
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deployResponse(d))
}

func (a *API) approveDeploy(w http.ResponseWriter, r *http.Request) {
	d, _, err := a.eng.Deploys().Approve(r.Context(), chi.URLParam(r, "deployID"), userFrom(r))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployResponse(d))
}

func (a *API) getDeploy(w http.ResponseWriter, r *http.Request) {
	d, err := a.eng.Deploys().Get(r.Context(), chi.URLParam(r, "deployID"))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployResponse(d))
}

func (a *API) listDeploys(w http.ResponseWriter, r *http.Request) {
	list, err := a.eng.Deploys().List(r.Context(), deploy.ListOpts{
		StageID: r.URL.Query().Get("stage"),
		Limit:   limitFrom(r),
	})
	if err != nil {
		a.writeErr(w, err)
		return
	}
	out := make([]DeployResponse, len(list))
	for i, d := range list {
		out[i] = deployResponse(d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) stopDeploy(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Deploys().Stop(r.Context(), chi.URLParam(r, "deployID"), userFrom(r)); err != nil {
		a.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
