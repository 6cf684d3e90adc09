package common

import "time"

// PatchRequest is the payload accepted by the patch and revert API routes.
// Path may be a local filesystem path or an http(s) URL.
type PatchRequest struct {
	Path string `json:"path"`
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// PatchRecord describes one completed pipeline run.
type PatchRecord struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"` // "patch" or "revert"
	ArchivePath string    `json:"archive_path"`
	Tag         string    `json:"tag,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
