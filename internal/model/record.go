package model

import (
	"io"
	"slices"
)

type ImageStatus string

const (
	ImageUploaded ImageStatus = "uploaded"
	ImageAlready  ImageStatus = "already"
	ImageFailed   ImageStatus = "failed"
	ImageUnknown  ImageStatus = "unknown"
)

type ImageResult struct {
	Sequence  int         `json:"sequence"`
	Status    ImageStatus `json:"status"`
	SourceRef string      `json:"sourceRef,omitempty"`
	DestRef   string      `json:"destRef,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Folder is the remote folder a record's images were taken from.
type Folder struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}

// Key identifies the folder for grouping: id, then path, then name.
func (f Folder) Key() string {
	switch {
	case f.ID != "":
		return f.ID
	case f.Path != "":
		return f.Path
	default:
		return f.Name
	}
}

// RecordVerificationResult is the per catalog record outcome of a run.
type RecordVerificationResult struct {
	Key         string        `json:"key"`
	ID          string        `json:"id,omitempty"`
	DisplayName string        `json:"displayName"`
	Code        string        `json:"code,omitempty"`
	Barcode     string        `json:"barcode,omitempty"`
	Folder      Folder        `json:"folder"`
	Images      []ImageResult `json:"images"`
}

func (r RecordVerificationResult) Clone() RecordVerificationResult {
	r.Images = slices.Clone(r.Images)
	return r
}

// FileHandle is an openable file selected by the operator.
type FileHandle interface {
	Path() string
	Open() (io.ReadCloser, error)
}

// MatchedFile is a file whose name follows the <key>-<sequence>.<ext> convention.
type MatchedFile struct {
	Key      string
	Sequence int
	File     FileHandle
}

// ResolvedRecord is the display record found for a key. A record with
// Found == false is the "not found" sentinel.
type ResolvedRecord struct {
	Key         string `json:"key"`
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Code        string `json:"code,omitempty"`
	Found       bool   `json:"found"`
	// Failure is the reason a lookup failed. Failed lookups are cached as not found.
	Failure string `json:"failure,omitempty"`
	// Transient marks a failure which was not cached, e.g. a missing credential.
	Transient bool `json:"-"`
}

func NotFound(key string) ResolvedRecord {
	return ResolvedRecord{Key: key}
}
