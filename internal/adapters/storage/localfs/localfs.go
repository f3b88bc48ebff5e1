package localfs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"edcomposer/internal/pkg/errors"
	"edcomposer/internal/ports"
)

// LocalFS implements ports.StorageProvider on a directory tree. Object keys
// are slash separated paths below the root.
type LocalFS struct {
	root string
}

func New(root string) *LocalFS {
	return &LocalFS{root: filepath.Clean(root)}
}

func (l *LocalFS) Provider() string { return "localfs" }

// Root returns the directory objects are stored under.
func (l *LocalFS) Root() string { return l.root }

// PutObject writes to a temporary file and renames it into place, so readers
// never observe a partial object.
func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	dst, err := l.path(in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "create object directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "create temp file")
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, ctxReader{ctx: ctx, r: in.Reader})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "write object")
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "commit object")
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: n}, nil
}

func (l *LocalFS) GetObject(_ context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	p, err := l.path(objectKey)
	if err != nil {
		return nil, "", 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", 0, errors.NotFound("object", objectKey)
		}
		return nil, "", 0, errors.Wrap(err, "localfs.get", "open object")
	}

	if st, statErr := f.Stat(); statErr == nil {
		size = st.Size()
	}

	contentType = typeByExtension(filepath.Ext(p))
	if contentType == "" {
		buf := make([]byte, 512)
		n, _ := f.Read(buf)
		_, _ = f.Seek(0, io.SeekStart)
		contentType = http.DetectContentType(buf[:n])
	}

	return f, contentType, size, nil
}

func (l *LocalFS) DeleteObject(_ context.Context, objectKey string) error {
	p, err := l.path(objectKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "localfs.delete", "remove object")
	}
	return nil
}

// Check verifies the root exists and is a directory, creating it if needed.
func (l *LocalFS) Check(_ context.Context) error {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return errors.Wrap(err, "localfs.check", "create storage root")
	}
	st, err := os.Stat(l.root)
	if err != nil {
		return errors.Wrap(err, "localfs.check", "stat storage root")
	}
	if !st.IsDir() {
		return errors.Newf(errors.CodeUnavailable, "storage root %s is not a directory", l.root)
	}
	return nil
}

// path maps a key to a file below root, rejecting keys that escape it.
func (l *LocalFS) path(objectKey string) (string, error) {
	key := strings.TrimSpace(objectKey)
	if key == "" {
		return "", errors.ValidationField("object_key", "object key is required")
	}
	p := filepath.Join(l.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", errors.ValidationField("object_key", fmt.Sprintf("object key %q escapes the storage root", objectKey))
	}
	return p, nil
}

// mediaTypes covers render outputs missing from some system mime tables.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".gif":  "image/gif",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".vtt":  "text/vtt",
}

func typeByExtension(ext string) string {
	if t, ok := mediaTypes[strings.ToLower(ext)]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

// ctxReader stops a copy once ctx ends.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
