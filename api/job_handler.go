package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/id"
	"github.com/zendesk/samson-sub001/job"
	"github.com/zendesk/samson-sub001/stream"
)

// JobResponse is a stored job plus the live state of its execution.
type JobResponse struct {
	*job.Job
	Active  bool     `json:"active"`
	Queued  bool     `json:"queued"`
	PID     int      `json:"pid,omitempty"`
	Viewers []string `json:"viewers,omitempty"`
}

func (a *API) jobResponse(j *job.Job) JobResponse {
	resp := JobResponse{Job: j}
	if e, ok := a.eng.Scheduler().FindByJob(j.ID); ok {
		resp.Active = e.Active()
		resp.Queued = !resp.Active
		resp.PID = e.PID()
		resp.Viewers = e.Viewers().List()
		// The live buffer is ahead of the rate limited mirror.
		j.Output = e.OutputText()
	}
	return resp
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.eng.Store().ListJobs(r.Context(), job.ListOpts{
		Status: job.Status(r.URL.Query().Get("status")),
		Limit:  limitFrom(r),
	})
	if err != nil {
		a.writeErr(w, fmt.Errorf("list jobs: %w", err))
		return
	}
	out := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		j.Output = ""
		out[i] = JobResponse{Job: j}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := a.eng.Store().GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.jobResponse(j))
}

// stopJob stops an in-flight execution. A job that never reached the
// scheduler (waiting for a buddy) is cancelled in the store.
func (a *API) stopJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")

	err := a.eng.Scheduler().Stop(ctx, jobID)
	if errors.Is(err, samson.ErrJobNotFound) {
		var j *job.Job
		j, err = a.eng.Store().GetJob(ctx, jobID)
		if err == nil {
			if j.Status.Finished() {
				err = fmt.Errorf("job %s: %w", jobID, samson.ErrAlreadyFinished)
			} else {
				err = a.eng.Store().UpdateStatus(ctx, jobID, job.StatusCancelled, "")
			}
		}
	}
	if err != nil {
		a.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// source returns the live execution of a job, or a replay of its stored
// output once it is no longer in flight.
func (a *API) source(r *http.Request) (stream.Source, error) {
	jobID := chi.URLParam(r, "jobID")
	if e, ok := a.eng.Scheduler().FindByJob(jobID); ok {
		return e, nil
	}
	j, err := a.eng.Store().GetJob(r.Context(), jobID)
	if err != nil {
		return nil, err
	}
	return stream.Replay(j.Output, string(j.Status)), nil
}

func (a *API) streamJob(w http.ResponseWriter, r *http.Request) {
	src, err := a.source(r)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	a.eng.Streamer().ServeSSE(w, r, src, userFrom(r))
}

func (a *API) streamJobWebSocket(w http.ResponseWriter, r *http.Request) {
	src, err := a.source(r)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	a.eng.Streamer().ServeWebSocket(w, r, src, userFrom(r))
}

// streamEvents streams lifecycle events for the topics named in the query,
// defaulting to every job.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{stream.TopicJobs}
	}
	for _, t := range topics {
		if err := stream.ValidateTopic(t); err != nil {
			a.writeErr(w, fmt.Errorf("%v: %w", err, samson.ErrInvalidRequest))
			return
		}
	}

	broker := a.eng.Broker()
	sub := broker.Subscribe(id.NewSubscriberID(), topics...)
	defer broker.RemoveSubscriber(sub.ID())
	a.eng.Streamer().ServeEvents(w, r, sub)
}
