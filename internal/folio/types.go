package folio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Job execution statuses reported by the metadata provider.
const (
	StatusCommitted = "COMMITTED"
	StatusError     = "ERROR"
	StatusCancelled = "CANCELLED"
)

// ContentTypeMARCRaw is the only content type the record endpoint accepts from
// this client.
const ContentTypeMARCRaw = "MARC_RAW"

// JobExecution is one entry of the job execution lists.
type JobExecution struct {
	ID       string   `json:"id"`
	HRID     HRID     `json:"hrId,omitempty"`
	Status   string   `json:"status,omitempty"`
	UIStatus string   `json:"uiStatus,omitempty"`
	FileName string   `json:"fileName,omitempty"`
	Progress Progress `json:"progress"`
}

// HRID is the human readable id of a job execution. The platform sends it as
// a number; older fixtures and some proxies send a string.
type HRID string

// UnmarshalJSON accepts a JSON number or string.
func (h *HRID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*h = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*h = HRID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid hrId %s: %w", data, err)
		}
		*h = HRID(n.String())
	}
	return nil
}

// MarshalJSON writes numeric ids as numbers, the way the platform does.
func (h HRID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(h), 10, 64); err == nil {
		return []byte(h), nil
	}
	return json.Marshal(string(h))
}

// Progress is the remote counter of records processed by a job.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// JobProfile is a data import job profile.
type JobProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	DataType string `json:"dataType"`
}

// RecordsMetadata describes the position of a chunk within a job.
type RecordsMetadata struct {
	Last        bool   `json:"last"`
	Counter     int    `json:"counter"`
	ContentType string `json:"contentType"`
	Total       int    `json:"total"`
}

// InitialRecord wraps one raw record.
type InitialRecord struct {
	Record string `json:"record"`
}

// RecordsPayload is the body of a record submission.
type RecordsPayload struct {
	ID              string          `json:"id"`
	RecordsMetadata RecordsMetadata `json:"recordsMetadata"`
	InitialRecords  []InitialRecord `json:"initialRecords"`
}

// EntitySummary holds the outcome counters of one entity type.
type EntitySummary struct {
	Created   int `json:"totalCreatedEntities" yaml:"created"`
	Updated   int `json:"totalUpdatedEntities" yaml:"updated"`
	Discarded int `json:"totalDiscardedEntities" yaml:"discarded"`
	Errors    int `json:"totalErrors" yaml:"error"`
}

// JobSummary is the final per-entity-type report of a job.
type JobSummary struct {
	JobExecutionID string                   `json:"jobExecutionId" yaml:"job_execution_id"`
	TotalErrors    int                      `json:"totalErrors" yaml:"total_errors"`
	Entities       map[string]EntitySummary `json:"-" yaml:"entities"`
}

// Empty reports whether the summary carries no entity rows.
func (s *JobSummary) Empty() bool {
	return s == nil || len(s.Entities) == 0
}

// EntityTypes returns the entity keys in sorted order.
func (s *JobSummary) EntityTypes() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.Entities))
	for k := range s.Entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnmarshalJSON collects every "<entity>Summary" object into Entities.
func (s *JobSummary) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Entities = make(map[string]EntitySummary)
	for key, value := range raw {
		switch {
		case key == "jobExecutionId":
			if err := json.Unmarshal(value, &s.JobExecutionID); err != nil {
				return err
			}
		case key == "totalErrors":
			if err := json.Unmarshal(value, &s.TotalErrors); err != nil {
				return err
			}
		case strings.HasSuffix(key, "Summary"):
			if string(value) == "null" {
				continue
			}
			var entity EntitySummary
			if err := json.Unmarshal(value, &entity); err != nil {
				continue
			}
			s.Entities[strings.TrimSuffix(key, "Summary")] = entity
		}
	}
	return nil
}
