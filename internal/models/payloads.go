package models

import (
	"encoding/json"
	"net/http"
	"net/url"
)

// These structs define the payloads exchanged between the storage trigger,
// the stage functions and the query handlers.

// Stage names one step of the pipeline.
type Stage string

const (
	StageCompress        Stage = "compress"
	StageDetectLabels    Stage = "detect-labels"
	StageExtractMetadata Stage = "extract-metadata"
)

// Next returns the stage chained after s, or "" for the last stage.
func (s Stage) Next() Stage {
	switch s {
	case StageCompress:
		return StageDetectLabels
	case StageDetectLabels:
		return StageExtractMetadata
	default:
		return ""
	}
}

// StorageEvent is the new-object notification that starts the Compress stage.
// Key is URL-encoded; Compress decodes it.
type StorageEvent struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// NewStorageEvent builds the notification for a stored object whose name is
// not encoded, as delivered by Cloud Storage or written by the local server.
func NewStorageEvent(bucket, objectName string) StorageEvent {
	return StorageEvent{Bucket: bucket, Key: url.QueryEscape(objectName)}
}

// StagePayload is the message one stage sends to the next.
type StagePayload struct {
	Bucket    string `json:"bucket"`
	BucketKey string `json:"bucketkey"`
}

// QueryEvent carries the parameters of a Download or Match query, either as
// direct fields or as path parameters.
type QueryEvent struct {
	JobID          string            `json:"jobid,omitempty"`
	Source         string            `json:"source,omitempty"`
	Target         string            `json:"target,omitempty"`
	PathParameters map[string]string `json:"pathParameters,omitempty"`
}

// Field returns the direct field with the given parameter name.
func (q QueryEvent) Field(name string) string {
	switch name {
	case "jobid":
		return q.JobID
	case "source":
		return q.Source
	case "target":
		return q.Target
	default:
		return ""
	}
}

// Response is the status+body envelope every handler returns.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// OK wraps a payload in a 200 response with a JSON-encoded body.
func OK(payload any) Response {
	return newResponse(http.StatusOK, payload)
}

// BadRequest wraps a payload in a 400 response with a JSON-encoded body.
func BadRequest(payload any) Response {
	return newResponse(http.StatusBadRequest, payload)
}

func newResponse(code int, payload any) Response {
	body, err := json.Marshal(payload)
	if err != nil {
		body, _ = json.Marshal(err.Error())
		code = http.StatusBadRequest
	}
	return Response{StatusCode: code, Body: string(body)}
}

// IsSuccess reports whether the response carries a 200 status.
func (r Response) IsSuccess() bool {
	return r.StatusCode == http.StatusOK
}

// StageError is the structured body returned by a failed Detect-Labels stage.
type StageError struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"errorMessage"`
}

// LabelsResult is the body returned by a successful Detect-Labels stage.
type LabelsResult struct {
	LabelFileName string `json:"labelFileName"`
}

// DownloadResult is the body returned for a completed job.
type DownloadResult struct {
	OriginalName string `json:"orig_name"`
	Image        string `json:"img_str"`
	Labels       string `json:"labels_str"`
	Metadata     string `json:"metadata_str"`
}

// MatchResult is the body returned by a successful Match query.
type MatchResult struct {
	Data   string `json:"data"`
	Source string `json:"source"`
	Target string `json:"target"`
}
