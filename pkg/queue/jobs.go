// Package queue provides the Watchtower worker's queue transport and the
// decoding of heterogeneous job payloads into typed jobs.
package queue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Job type tags carried in the "type" field of queue payloads
const (
	TypeNewVersion           = "new_version"
	TypeQuarantineExpired    = "quarantine_expired"
	TypeBatchVersionAnalysis = "batch_version_analysis"
)

// Job is the tagged variant over the three queue payload shapes
type Job interface {
	// Kind returns a short human-readable tag for logging
	Kind() string
}

// NewVersionJob announces a fresh upstream release or an expired quarantine
type NewVersionJob struct {
	Type              string `json:"type"`
	DependencyID      string `json:"dependency_id"`
	Name              string `json:"name"`
	NewVersion        string `json:"new_version,omitempty"`
	LatestReleaseDate string `json:"latest_release_date,omitempty"`
}

// Kind implements Job
func (j *NewVersionJob) Kind() string { return j.Type }

// WatchtowerJob requests a full package analysis for a watched package
type WatchtowerJob struct {
	PackageName         string `json:"packageName"`
	WatchedPackageID    string `json:"watchedPackageId"`
	ProjectDependencyID string `json:"projectDependencyId"`
	CurrentVersion      string `json:"currentVersion,omitempty"`
}

// Kind implements Job
func (j *WatchtowerJob) Kind() string { return "watchtower" }

// BatchVersionAnalysisJob requests low-priority backfill analysis of a
// version list
type BatchVersionAnalysisJob struct {
	Type         string   `json:"type"`
	DependencyID string   `json:"dependency_id"`
	PackageName  string   `json:"packageName"`
	Versions     []string `json:"versions"`
}

// Kind implements Job
func (j *BatchVersionAnalysisJob) Kind() string { return TypeBatchVersionAnalysis }

// DecodeError marks a malformed job payload. It is terminal for the job and
// never fatal for the dispatcher loop.
type DecodeError struct {
	Reason string
	Raw    string
}

// Error implements error
func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed job payload: %s", e.Reason)
}

// Decode parses a raw queue payload into a typed Job. Payloads arrive either
// as a JSON object or as a JSON string wrapping one (double-encoded); both
// are accepted.
func Decode(raw string) (Job, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &DecodeError{Reason: "empty payload", Raw: raw}
	}

	// Unwrap a double-encoded payload: a JSON string whose contents are the
	// actual JSON object.
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("invalid JSON string wrapper: %v", err), Raw: raw}
		}
		trimmed = strings.TrimSpace(inner)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid JSON object: %v", err), Raw: raw}
	}

	return decodeFields(trimmed, fields, raw)
}

// DecodeValue parses an already-decoded payload (for example a
// map[string]any handed over by a transport that eagerly unmarshals)
func DecodeValue(value any) (Job, error) {
	switch v := value.(type) {
	case string:
		return Decode(v)
	case []byte:
		return Decode(string(v))
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("unencodable payload value: %v", err), Raw: fmt.Sprintf("%v", value)}
		}
		return Decode(string(encoded))
	}
}

// decodeFields selects the concrete job shape from the payload's fields
func decodeFields(payload string, fields map[string]json.RawMessage, raw string) (Job, error) {
	typeTag := ""
	if rawType, ok := fields["type"]; ok {
		if err := json.Unmarshal(rawType, &typeTag); err != nil {
			return nil, &DecodeError{Reason: "non-string type field", Raw: raw}
		}
	}

	switch typeTag {
	case TypeNewVersion, TypeQuarantineExpired:
		var job NewVersionJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("bad new-version job: %v", err), Raw: raw}
		}
		if job.DependencyID == "" || job.Name == "" {
			return nil, &DecodeError{Reason: "new-version job missing dependency_id or name", Raw: raw}
		}
		return &job, nil

	case TypeBatchVersionAnalysis:
		var job BatchVersionAnalysisJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("bad batch job: %v", err), Raw: raw}
		}
		if job.DependencyID == "" || job.PackageName == "" {
			return nil, &DecodeError{Reason: "batch job missing dependency_id or packageName", Raw: raw}
		}
		return &job, nil

	case "":
		// Untagged payloads: a versions array marks a legacy batch job, a
		// watchedPackageId marks a main-queue job.
		if _, ok := fields["versions"]; ok {
			var job BatchVersionAnalysisJob
			if err := json.Unmarshal([]byte(payload), &job); err != nil {
				return nil, &DecodeError{Reason: fmt.Sprintf("bad batch job: %v", err), Raw: raw}
			}
			if job.DependencyID == "" || job.PackageName == "" {
				return nil, &DecodeError{Reason: "batch job missing dependency_id or packageName", Raw: raw}
			}
			job.Type = TypeBatchVersionAnalysis
			return &job, nil
		}

		var job WatchtowerJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("bad watchtower job: %v", err), Raw: raw}
		}
		if job.PackageName == "" || job.WatchedPackageID == "" {
			return nil, &DecodeError{Reason: "watchtower job missing packageName or watchedPackageId", Raw: raw}
		}
		return &job, nil

	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown job type %q", typeTag), Raw: raw}
	}
}
