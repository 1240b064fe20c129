// Package upload implements the hash → presign → PUT handshake that lets large
// or sensitive payloads travel as an object reference instead of inline params.
//
// The hash is always computed over the exact bytes that are PUT. A Staged
// upload refuses bytes that differ from the ones it was presigned for, so a
// stale (hash, object key) pair can never reach storage. Nothing retries.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/transport"
)

const presignPath = "/workbench/object-store/presign-upload"

// Default sensitivity label attached to references when the caller gives none.
const SensitivityInternal = "internal"

// ComputeHash returns the lowercase hex SHA-256 digest of data.
func ComputeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PresignRequest describes the object a presigned URL is requested for.
type PresignRequest struct {
	Purpose   string
	MediaType string
	SHA256    string
	Filename  string
}

// UploadRequest is the one-step form: Content is hashed, presigned and PUT.
type UploadRequest struct {
	Purpose     string
	MediaType   string
	Filename    string
	Sensitivity string
	Content     []byte
}

// Client performs presign calls against the backend and PUTs against the
// returned storage URL. Safe for concurrent use.
type Client struct {
	api    *transport.Client
	put    *resty.Client
	logger *slog.Logger
}

// New creates an upload client. The PUT side gets its own HTTP client: the
// presigned URL points at object storage, which must never see the bearer
// credential.
func New(api *transport.Client, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	put := resty.NewWithClient(&http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetPreRequestHook(presignedContentType)

	return &Client{api: api, put: put, logger: logger}
}

// Presign asks the backend for an upload URL bound to req.SHA256.
func (c *Client) Presign(ctx context.Context, req PresignRequest) (model.PresignResult, error) {
	if req.SHA256 == "" {
		return model.PresignResult{}, fmt.Errorf("upload: presign: sha256 is required")
	}

	resp, err := c.api.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   presignPath,
		Body: map[string]string{
			"content_type": req.MediaType,
			"filename":     req.Filename,
			"purpose":      req.Purpose,
			"sha256":       req.SHA256,
		},
	})
	if err != nil {
		return model.PresignResult{}, fmt.Errorf("upload: presign: %w", err)
	}
	if !resp.OK() {
		return model.PresignResult{}, fmt.Errorf("upload: presign: %w", classify(resp))
	}

	var result model.PresignResult
	if err := resp.Decode(&result); err != nil {
		return model.PresignResult{}, fmt.Errorf("upload: presign: %w", err)
	}
	if result.UploadURL == "" || result.ObjectKey == "" {
		return model.PresignResult{}, model.NewError(model.KindContractViolation, resp.StatusCode,
			"presign response is missing upload_url or object_key", resp.Body)
	}
	return result, nil
}

// contentTypeKey carries the presigned Content-Type, or "" for none, from Put
// to presignedContentType.
type contentTypeKey struct{}

// presignedContentType undoes resty's body sniffing: object storage sees a
// Content-Type only when the presign asked for one, and then exactly that one.
func presignedContentType(_ *resty.Client, req *http.Request) error {
	ct, ok := req.Context().Value(contentTypeKey{}).(string)
	if !ok {
		return nil
	}
	if ct == "" {
		req.Header.Del("Content-Type")
	} else {
		req.Header.Set("Content-Type", ct)
	}
	return nil
}

// Put uploads data to a presigned URL, echoing requiredHeaders exactly and
// adding no Content-Type of its own.
func (c *Client) Put(ctx context.Context, uploadURL string, requiredHeaders map[string]string, data []byte) error {
	var ct string
	for k, v := range requiredHeaders {
		if http.CanonicalHeaderKey(k) == "Content-Type" {
			ct = v
		}
	}
	resp, err := c.put.R().
		SetContext(context.WithValue(ctx, contentTypeKey{}, ct)).
		SetHeaders(requiredHeaders).
		SetBody(data).
		Put(uploadURL)
	if err != nil {
		return &model.Error{Kind: model.KindUploadFailed, Message: "upload PUT", Err: err}
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return model.NewError(model.KindUploadFailed, resp.StatusCode(),
			"object storage rejected the upload", resp.Body())
	}
	c.logger.Debug("upload: object stored", "bytes", len(data))
	return nil
}

// Staged is a presigned upload bound to one content hash.
type Staged struct {
	Presign     model.PresignResult
	SHA256      string
	MediaType   string
	Sensitivity string

	client *Client
}

// Stage hashes content and obtains a presigned URL for it. The returned value
// only accepts the same bytes.
func (c *Client) Stage(ctx context.Context, req UploadRequest) (*Staged, error) {
	hash := ComputeHash(req.Content)
	result, err := c.Presign(ctx, PresignRequest{
		Purpose:   req.Purpose,
		MediaType: req.MediaType,
		SHA256:    hash,
		Filename:  req.Filename,
	})
	if err != nil {
		return nil, err
	}
	sensitivity := req.Sensitivity
	if sensitivity == "" {
		sensitivity = SensitivityInternal
	}
	return &Staged{
		Presign:     result,
		SHA256:      hash,
		MediaType:   req.MediaType,
		Sensitivity: sensitivity,
		client:      c,
	}, nil
}

// Upload PUTs content to the staged URL. Content whose hash differs from the
// staged hash is refused with KindStaleUpload and nothing is sent; the caller
// must Stage again.
func (s *Staged) Upload(ctx context.Context, content []byte) (model.ObjectReference, error) {
	if got := ComputeHash(content); got != s.SHA256 {
		return model.ObjectReference{}, &model.Error{
			Kind:    model.KindStaleUpload,
			Message: fmt.Sprintf("content changed after presign (staged %s, have %s)", short(s.SHA256), short(got)),
		}
	}
	if err := s.client.Put(ctx, s.Presign.UploadURL, s.Presign.RequiredHeaders, content); err != nil {
		return model.ObjectReference{}, fmt.Errorf("upload: %w", err)
	}
	return s.Reference(), nil
}

// Reference returns the object reference the staged upload produces.
func (s *Staged) Reference() model.ObjectReference {
	return model.ObjectReference{
		ObjectKey:   s.Presign.ObjectKey,
		SHA256:      s.SHA256,
		MediaType:   s.MediaType,
		Sensitivity: s.Sensitivity,
	}
}

// UploadObject hashes, presigns and uploads req.Content in one step.
func (c *Client) UploadObject(ctx context.Context, req UploadRequest) (model.ObjectReference, error) {
	staged, err := c.Stage(ctx, req)
	if err != nil {
		return model.ObjectReference{}, err
	}
	ref, err := staged.Upload(ctx, req.Content)
	if err != nil {
		return model.ObjectReference{}, err
	}
	c.logger.Info("upload: object uploaded",
		"purpose", req.Purpose, "object_key", ref.ObjectKey, "bytes", len(req.Content))
	return ref, nil
}

func classify(resp *transport.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return transport.ErrorFromResponse(resp, model.KindUploadFailed)
	default:
		return model.NewError(model.KindUploadFailed, resp.StatusCode, "presign rejected", resp.Body)
	}
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
