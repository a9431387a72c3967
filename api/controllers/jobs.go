package controllers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rmarceau/torrdrive-backend/api/middleware"
	"github.com/rmarceau/torrdrive-backend/api/responses"
	"github.com/rmarceau/torrdrive-backend/api/validators"
	"github.com/rmarceau/torrdrive-backend/internal/jobs"
	"github.com/rmarceau/torrdrive-backend/internal/timeline"
	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	pkgerrors "github.com/rmarceau/torrdrive-backend/pkg/errors"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
)

func parseJobID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "jobId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "job id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job id")
	}
	return id, nil
}

// fetchOwnedJob loads a job and hides it behind NOT_FOUND when the caller
// does not own it.
func fetchOwnedJob(r *http.Request, svc *jobs.Service) (*models.Job, error) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing")
	}
	jobID, err := parseJobID(r)
	if err != nil {
		return nil, err
	}
	job, err := svc.Get(r.Context(), jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
	}
	return job, nil
}

func JobDetail(svc *jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := fetchOwnedJob(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newJobResponse(job, svc))
	}
}

func JobTimeline(svc *jobs.Service, tl *timeline.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := fetchOwnedJob(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, info, err := tl.Read(r.Context(), job.ID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTimelinePage(entries, info))
	}
}

func JobCancel(svc *jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := fetchOwnedJob(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithJobID(r.Context(), job.ID.String())
		cancelled, err := svc.Cancel(ctx, job.ID, enums.TransitionSourceUser)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newJobResponse(cancelled, svc))
	}
}

func JobRetry(svc *jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := fetchOwnedJob(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithJobID(r.Context(), job.ID.String())
		retried, err := svc.Retry(ctx, job.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newJobResponse(retried, svc))
	}
}

type transitionRequest struct {
	ToStatus     string          `json:"to_status" validate:"required"`
	Source       string          `json:"source" validate:"required"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// JobTransition is the worker-facing transition hook. The state machine
// decides validity; this handler only parses.
func JobTransition(svc *jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := parseJobID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req transitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		toStatus, err := enums.ParseJobStatus(req.ToStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target status"))
			return
		}
		source, err := enums.ParseTransitionSource(req.Source)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transition source"))
			return
		}

		ctx := logg.WithJobID(r.Context(), jobID.String())
		job, err := svc.Transition(ctx, jobs.TransitionInput{
			JobID:        jobID,
			ToStatus:     toStatus,
			Source:       source,
			ErrorMessage: req.ErrorMessage,
			Metadata:     req.Metadata,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newJobResponse(job, svc))
	}
}
