package gdrive

import (
	"context"
	"io"
	"net/http"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"edcomposer/internal/pkg/errors"
	"edcomposer/internal/ports"
)

// Client implements ports.StorageProvider on Google Drive. Uploads use the
// object key as the file name; the returned key is the Drive file id.
type Client struct {
	srv      *drive.Service
	folderID string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, errors.ValidationField("object_key", "object key is required")
	}

	file := &drive.File{Name: in.ObjectKey, MimeType: in.ContentType}
	if c.folderID != "" {
		file.Parents = []string{c.folderID}
	}

	var opts []googleapi.MediaOption
	if in.ContentType != "" {
		opts = append(opts, googleapi.ContentType(in.ContentType))
	}

	created, err := c.srv.Files.Create(file).
		Media(in.Reader, opts...).
		SupportsAllDrives(true).
		Fields("id", "size").
		Context(ctx).
		Do()
	if err != nil {
		return ports.PutObjectOutput{}, classify(err, "gdrive.put", "upload to drive")
	}

	size := created.Size
	if size == 0 {
		size = in.Size
	}
	return ports.PutObjectOutput{ObjectKey: created.Id, Size: size}, nil
}

func (c *Client) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	resp, err := c.srv.Files.Get(objectKey).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, "", 0, classify(err, "gdrive.get", "download from drive")
	}
	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	err := c.srv.Files.Delete(objectKey).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil && !errors.IsNotFound(classify(err, "", "")) {
		return classify(err, "gdrive.delete", "delete from drive")
	}
	return nil
}

// Check confirms the credentials can reach Drive.
func (c *Client) Check(ctx context.Context) error {
	if _, err := c.srv.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return classify(err, "gdrive.check", "drive about")
	}
	return nil
}

func classify(err error, op, msg string) error {
	code := errors.CodeUnavailable
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound:
			code = errors.CodeNotFound
		case gerr.Code == http.StatusTooManyRequests:
			code = errors.CodeResourceExhaust
		case gerr.Code >= 400 && gerr.Code < 500:
			code = errors.CodeBadRequest
		}
	}
	return errors.WrapWithCode(err, code, op, msg)
}
