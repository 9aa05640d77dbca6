package folio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackzampolin/folio-import/internal/api"
)

const (
	activeJobsPath = "/metadata-provider/jobExecutions?statusNot=DISCARDED" +
		"&uiStatusAny=PREPARING_FOR_PREVIEW&uiStatusAny=READY_FOR_PREVIEW&uiStatusAny=RUNNING&limit=50"
	completedJobsPath = "/metadata-provider/jobExecutions?limit=100&sortBy=completed_date,desc" +
		"&statusAny=COMMITTED&statusAny=ERROR&statusAny=CANCELLED"
	profilesPath = "/data-import-profiles/jobProfiles?limit=1000"
)

// ErrSummaryNotReady is returned while the job summary is not yet available.
var ErrSummaryNotReady = errors.New("job summary not ready")

// Remote is the typed API of the platform used by the importers.
type Remote struct {
	client *api.Client
	userID string
	logger *slog.Logger
}

// NewRemote wraps an authenticated gateway client.
func NewRemote(client *api.Client, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		client: client,
		logger: logger.With("component", "folio"),
	}
}

// SetUserID sets the user recorded as the owner of created job executions.
func (r *Remote) SetUserID(id string) {
	r.userID = id
}

type createJobRequest struct {
	SourceType string `json:"sourceType"`
	UserID     string `json:"userId"`
}

type createJobResponse struct {
	ParentJobExecutionID string `json:"parentJobExecutionId"`
}

// CreateJob creates a new job execution and returns its id.
func (r *Remote) CreateJob(ctx context.Context, timeout time.Duration) (string, error) {
	var resp createJobResponse
	err := r.client.WithTimeout(timeout).Post(ctx, "/change-manager/jobExecutions",
		createJobRequest{SourceType: "ONLINE", UserID: r.userID}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ParentJobExecutionID == "" {
		return "", fmt.Errorf("create job response carried no job execution id")
	}
	return resp.ParentJobExecutionID, nil
}

type jobProfilesResponse struct {
	JobProfiles []JobProfile `json:"jobProfiles"`
}

// ListJobProfiles returns every job profile visible to the tenant.
func (r *Remote) ListJobProfiles(ctx context.Context) ([]JobProfile, error) {
	var resp jobProfilesResponse
	if err := r.client.Get(ctx, profilesPath, &resp); err != nil {
		return nil, err
	}
	return resp.JobProfiles, nil
}

// SetJobProfile assigns profile to the job and returns the job hrid.
func (r *Remote) SetJobProfile(ctx context.Context, jobID string, profile JobProfile) (string, error) {
	body := JobProfile{ID: profile.ID, Name: profile.Name, DataType: "MARC"}
	var resp JobExecution
	path := fmt.Sprintf("/change-manager/jobExecutions/%s/jobProfile", jobID)
	if err := r.client.Put(ctx, path, body, &resp); err != nil {
		return "", err
	}
	return string(resp.HRID), nil
}

// SetJobFileName sets the file name shown for the job in the data import logs.
func (r *Remote) SetJobFileName(ctx context.Context, jobID, name string) error {
	path := fmt.Sprintf("/change-manager/jobExecutions/%s", jobID)
	var job map[string]any
	if err := r.client.Get(ctx, path, &job); err != nil {
		return err
	}
	job["fileName"] = name
	return r.client.Put(ctx, path, job, nil)
}

// SubmitRecords posts one chunk of raw records to the job.
func (r *Remote) SubmitRecords(ctx context.Context, jobID string, payload RecordsPayload, timeout time.Duration) error {
	path := fmt.Sprintf("/change-manager/jobExecutions/%s/records", jobID)
	return r.client.WithTimeout(timeout).Post(ctx, path, payload, nil)
}

type jobExecutionsResponse struct {
	JobExecutions []JobExecution `json:"jobExecutions"`
}

// ActiveJobs lists running and preparing job executions.
func (r *Remote) ActiveJobs(ctx context.Context, timeout time.Duration) ([]JobExecution, error) {
	var resp jobExecutionsResponse
	if err := r.client.WithTimeout(timeout).Get(ctx, activeJobsPath, &resp); err != nil {
		return nil, err
	}
	return resp.JobExecutions, nil
}

// CompletedJobs lists the most recently completed, errored or cancelled jobs.
func (r *Remote) CompletedJobs(ctx context.Context, timeout time.Duration) ([]JobExecution, error) {
	var resp jobExecutionsResponse
	if err := r.client.WithTimeout(timeout).Get(ctx, completedJobsPath, &resp); err != nil {
		return nil, err
	}
	return resp.JobExecutions, nil
}

// JobSummary fetches the final summary of a job. A 404 is reported as
// ErrSummaryNotReady.
func (r *Remote) JobSummary(ctx context.Context, jobID string, timeout time.Duration) (*JobSummary, error) {
	var summary JobSummary
	err := r.client.WithTimeout(timeout).Get(ctx, "/metadata-provider/jobSummary/"+jobID, &summary)
	if api.StatusCode(err) == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrSummaryNotReady, jobID)
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// CancelJob deletes the records of a job, which cancels it.
func (r *Remote) CancelJob(ctx context.Context, jobID string, timeout time.Duration) error {
	path := fmt.Sprintf("/change-manager/jobExecutions/%s/records", jobID)
	if err := r.client.WithTimeout(timeout).Delete(ctx, path); err != nil {
		return err
	}
	r.logger.Info("cancelled job", "job_id", jobID)
	return nil
}
