// Package marcjob drives binary record imports through remote job executions:
// creating the job, streaming record batches into it, following its progress
// and collecting its summary.
package marcjob

import (
	"context"
	"time"

	"github.com/jackzampolin/folio-import/internal/folio"
)

//go:generate mockgen -source=api.go -destination=mocks/mock_api.go -package=mocks

// RemoteAPI is the part of the platform API a job needs. A zero timeout means
// the client default.
type RemoteAPI interface {
	CreateJob(ctx context.Context, timeout time.Duration) (string, error)
	ListJobProfiles(ctx context.Context) ([]folio.JobProfile, error)
	SetJobProfile(ctx context.Context, jobID string, profile folio.JobProfile) (string, error)
	SetJobFileName(ctx context.Context, jobID, name string) error
	SubmitRecords(ctx context.Context, jobID string, payload folio.RecordsPayload, timeout time.Duration) error
	ActiveJobs(ctx context.Context, timeout time.Duration) ([]folio.JobExecution, error)
	CompletedJobs(ctx context.Context, timeout time.Duration) ([]folio.JobExecution, error)
	JobSummary(ctx context.Context, jobID string, timeout time.Duration) (*folio.JobSummary, error)
	CancelJob(ctx context.Context, jobID string, timeout time.Duration) error
}

var _ RemoteAPI = (*folio.Remote)(nil)
