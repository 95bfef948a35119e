package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/bigquery/v2"

	"mongobq/internal"
	"mongobq/internal/gcp"
	"mongobq/internal/schema"
)

// TableRef names the destination table.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

func (t TableRef) String() string {
	return t.Project + "." + t.Dataset + "." + t.Table
}

// LoadRequest appends the rows of URIs to Table using an explicit schema.
type LoadRequest struct {
	URIs   []string
	Table  TableRef
	Schema schema.Schema
	Format internal.WireFormat
}

// JobHandle identifies a submitted load job.
type JobHandle struct {
	ID       string
	Location string
}

// Jobs is the two-step warehouse call: Submit returns at once, Await blocks
// until the job reaches a terminal state.
type Jobs interface {
	Submit(ctx context.Context, req LoadRequest) (JobHandle, error)
	Await(ctx context.Context, job JobHandle) error
}

type BigQueryJobs struct {
	service  *bigquery.Service
	project  string
	location string
	poll     time.Duration
}

type BigQueryOptions struct {
	Project         string
	Location        string
	CredentialsFile string
	PollInterval    time.Duration
}

func NewBigQueryJobs(ctx context.Context, opts BigQueryOptions) (*BigQueryJobs, error) {
	if opts.Project == "" {
		return nil, errors.New("bigquery: project is required")
	}
	clientOpt, err := gcp.ClientOption(ctx, opts.CredentialsFile, bigquery.BigqueryScope)
	if err != nil {
		return nil, err
	}
	svc, err := bigquery.NewService(ctx, clientOpt)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &BigQueryJobs{service: svc, project: opts.Project, location: opts.Location, poll: poll}, nil
}

func sourceFormat(f internal.WireFormat) string {
	if f == internal.FormatParquet {
		return "PARQUET"
	}
	return "NEWLINE_DELIMITED_JSON"
}

// loadJob builds the job body. Autodetect stays off: the descriptor is the
// schema.
func loadJob(req LoadRequest) *bigquery.Job {
	return &bigquery.Job{
		Configuration: &bigquery.JobConfiguration{
			Load: &bigquery.JobConfigurationLoad{
				SourceUris: req.URIs,
				DestinationTable: &bigquery.TableReference{
					ProjectId: req.Table.Project,
					DatasetId: req.Table.Dataset,
					TableId:   req.Table.Table,
				},
				Schema:            req.Schema.TableSchema(),
				SourceFormat:      sourceFormat(req.Format),
				WriteDisposition:  "WRITE_APPEND",
				CreateDisposition: "CREATE_IF_NEEDED",
				Autodetect:        false,
			},
		},
	}
}

func (b *BigQueryJobs) Submit(ctx context.Context, req LoadRequest) (JobHandle, error) {
	job := loadJob(req)
	if b.location != "" {
		job.JobReference = &bigquery.JobReference{ProjectId: b.project, Location: b.location}
	}
	out, err := b.service.Jobs.Insert(b.project, job).Context(ctx).Do()
	if err != nil {
		return JobHandle{}, fmt.Errorf("submit load job: %w", err)
	}
	h := JobHandle{Location: b.location}
	if out.JobReference != nil {
		h.ID = out.JobReference.JobId
		if out.JobReference.Location != "" {
			h.Location = out.JobReference.Location
		}
	}
	return h, nil
}

func (b *BigQueryJobs) Await(ctx context.Context, job JobHandle) error {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	for {
		call := b.service.Jobs.Get(b.project, job.ID).Context(ctx)
		if job.Location != "" {
			call = call.Location(job.Location)
		}
		got, err := call.Do()
		if err != nil {
			return fmt.Errorf("poll job %s: %w", job.ID, err)
		}
		if got.Status != nil && got.Status.State == "DONE" {
			return jobError(got.Status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func jobError(status *bigquery.JobStatus) error {
	if status.ErrorResult == nil {
		return nil
	}
	msg := status.ErrorResult.Message
	for _, e := range status.Errors {
		if e != nil && e.Message != "" && e.Message != msg {
			msg += "; " + e.Message
		}
	}
	return fmt.Errorf("load job failed (%s): %s", status.ErrorResult.Reason, msg)
}
