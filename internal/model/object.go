package model

import "time"

// ObjectReference points at an uploaded object in place of an inline payload.
// It is immutable once the upload PUT succeeds and belongs to one invocation.
type ObjectReference struct {
	ObjectKey   string `json:"object_key"`
	SHA256      string `json:"sha256"`
	MediaType   string `json:"media_type"`
	Sensitivity string `json:"sensitivity"`
}

// PresignResult is the backend's answer to a presign-upload request.
type PresignResult struct {
	UploadURL       string            `json:"upload_url"`
	RequiredHeaders map[string]string `json:"required_headers"`
	ObjectKey       string            `json:"object_key"`
	ExpiresAt       time.Time         `json:"expires_at"`
}
