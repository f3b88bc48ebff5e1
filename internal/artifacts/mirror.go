// Package artifacts copies finished renders from the backend output URL into
// the configured storage provider.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"edcomposer/internal/pkg/errors"
	"edcomposer/internal/pkg/logger"
	"edcomposer/internal/ports"
)

const (
	defaultTimeout  = 10 * time.Minute
	defaultMaxBytes = 2 << 30
)

// Stored describes an artifact written to storage.
type Stored struct {
	RenderID    string    `json:"renderId"`
	Provider    string    `json:"provider"`
	ObjectKey   string    `json:"objectKey"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	SourceURL   string    `json:"sourceUrl"`
	StoredAt    time.Time `json:"storedAt"`
}

type Options struct {
	// Timeout bounds one copy, download and upload together.
	Timeout time.Duration
	// MaxBytes rejects larger artifacts.
	MaxBytes   int64
	HTTPClient *http.Client
	Log        *logger.Logger
}

// Mirror downloads render outputs and stores them under
// renders/{renderID}/output{ext}.
type Mirror struct {
	sp       ports.StorageProvider
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	log      *logger.Logger
}

func NewMirror(sp ports.StorageProvider, opts Options) *Mirror {
	m := &Mirror{
		sp:       sp,
		client:   opts.HTTPClient,
		timeout:  opts.Timeout,
		maxBytes: opts.MaxBytes,
		log:      opts.Log,
	}
	if m.client == nil {
		m.client = &http.Client{}
	}
	if m.timeout <= 0 {
		m.timeout = defaultTimeout
	}
	if m.maxBytes <= 0 {
		m.maxBytes = defaultMaxBytes
	}
	if m.log == nil {
		m.log = logger.NewDefault()
	}
	m.log = m.log.WithComponent("artifacts")
	return m
}

// Provider names the storage backend artifacts go to.
func (m *Mirror) Provider() string { return m.sp.Provider() }

// Copy streams sourceURL into storage.
func (m *Mirror) Copy(ctx context.Context, renderID, sourceURL string) (Stored, error) {
	const op = "artifacts.copy"

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	log := m.log.WithRenderID(renderID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return Stored{}, errors.WrapWithCode(err, errors.CodeValidation, op, "invalid output url")
	}
	res, err := m.client.Do(req)
	if err != nil {
		return Stored{}, errors.WrapWithCode(err, errors.CodeTransport, op, "download render output")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Stored{}, errors.Newf(errors.CodeTransport, "download returned status %d", res.StatusCode).
			WithField("render_id", renderID)
	}
	if res.ContentLength > m.maxBytes {
		return Stored{}, errors.Newf(errors.CodeResourceExhaust, "artifact of %d bytes exceeds the %d byte limit", res.ContentLength, m.maxBytes)
	}

	contentType := mediaType(res.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "video/mp4"
	}
	key := ObjectKey(renderID, contentType)

	body := &limitedReader{r: res.Body, remaining: m.maxBytes}
	out, err := m.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: contentType,
		Reader:      body,
		Size:        res.ContentLength,
	})
	if err != nil {
		if body.exceeded {
			return Stored{}, errors.Newf(errors.CodeResourceExhaust, "artifact exceeds the %d byte limit", m.maxBytes)
		}
		return Stored{}, errors.Wrap(err, op, "store render output")
	}

	stored := Stored{
		RenderID:    renderID,
		Provider:    m.sp.Provider(),
		ObjectKey:   out.ObjectKey,
		ContentType: contentType,
		Size:        out.Size,
		SourceURL:   sourceURL,
		StoredAt:    time.Now().UTC(),
	}
	log.Info("render output stored",
		"provider", stored.Provider,
		"object_key", stored.ObjectKey,
		"size", stored.Size,
	)
	return stored, nil
}

// Remove deletes a stored artifact.
func (m *Mirror) Remove(ctx context.Context, stored Stored) error {
	if err := m.sp.DeleteObject(ctx, stored.ObjectKey); err != nil {
		return errors.Wrap(err, "artifacts.remove", "delete render output").WithField("render_id", stored.RenderID)
	}
	m.log.WithRenderID(stored.RenderID).Info("render output removed", "object_key", stored.ObjectKey)
	return nil
}

// ObjectKey is the storage key of a render output.
func ObjectKey(renderID, contentType string) string {
	ext := ExtFromMime(contentType)
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("renders/%s/output%s", SanitizeFilename(renderID), ext)
}

// ExtFromMime returns the file extension for the media types renders use.
func ExtFromMime(mime string) string {
	switch mediaType(mime) {
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	case "image/gif":
		return ".gif"
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	default:
		return ""
	}
}

// SanitizeFilename keeps a path segment from escaping its directory.
func SanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "..", "")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return "render"
	}
	return s
}

func mediaType(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// limitedReader fails the copy once more than remaining bytes were read.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, errors.New(errors.CodeResourceExhaust, "artifact size limit exceeded")
	}
	return n, err
}
