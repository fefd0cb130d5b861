package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"call-reminder-backend/internal/apperr"
	"call-reminder-backend/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	suffixLength = 9
	suffixChars  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Media is an opened attachment source
type Media struct {
	Name        string
	ContentType string
	Body        io.ReadCloser
}

// Source yields the bytes of one attachment
type Source interface {
	Open(ctx context.Context) (*Media, error)
}

// FileSource reads an attachment from the local filesystem
type FileSource struct {
	Path        string
	ContentType string
}

// Open opens the file. A permission failure is reported as apperr.ErrPermissionDenied.
func (s FileSource) Open(context.Context) (*Media, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrPermissionDenied, s.Path)
		}
		return nil, err
	}
	return &Media{Name: filepath.Base(s.Path), ContentType: s.ContentType, Body: f}, nil
}

// MultipartSource reads an uploaded form file
type MultipartSource struct {
	Header *multipart.FileHeader
}

// Open opens the uploaded part
func (s MultipartSource) Open(context.Context) (*Media, error) {
	f, err := s.Header.Open()
	if err != nil {
		return nil, err
	}
	return &Media{
		Name:        s.Header.Filename,
		ContentType: s.Header.Header.Get("Content-Type"),
		Body:        f,
	}, nil
}

// BytesSource serves an attachment already in memory
type BytesSource struct {
	Name        string
	ContentType string
	Data        []byte
}

// Open wraps the bytes
func (s BytesSource) Open(context.Context) (*Media, error) {
	return &Media{Name: s.Name, ContentType: s.ContentType, Body: io.NopCloser(bytes.NewReader(s.Data))}, nil
}

// AttachmentManager uploads media to blob storage and describes the result.
// It knows nothing about tiers; callers check limits before acquiring.
type AttachmentManager struct {
	blob     Blob
	maxBytes int64
	now      func() time.Time
}

// NewAttachmentManager creates a new attachment manager
func NewAttachmentManager(blob Blob, maxBytes int64) *AttachmentManager {
	return &AttachmentManager{blob: blob, maxBytes: maxBytes, now: time.Now}
}

// AcquireImage uploads an image
func (m *AttachmentManager) AcquireImage(ctx context.Context, src Source) (models.Attachment, error) {
	return m.Acquire(ctx, models.KindImage, src)
}

// AcquireVideo uploads a video
func (m *AttachmentManager) AcquireVideo(ctx context.Context, src Source) (models.Attachment, error) {
	return m.Acquire(ctx, models.KindVideo, src)
}

// AcquireDocument uploads a document
func (m *AttachmentManager) AcquireDocument(ctx context.Context, src Source) (models.Attachment, error) {
	return m.Acquire(ctx, models.KindFile, src)
}

// Acquire reads src, checks it is a kind attachment and uploads it as {id}_{name}.
// Nothing is returned unless the upload succeeded.
func (m *AttachmentManager) Acquire(ctx context.Context, kind models.AttachmentKind, src Source) (models.Attachment, error) {
	if _, err := models.ParseAttachmentKind(string(kind)); err != nil {
		return models.Attachment{}, apperr.Validation("%v", err)
	}

	media, err := src.Open(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrPermission) {
			return models.Attachment{}, err
		}
		return models.Attachment{}, apperr.Validation("failed to open media: %v", err)
	}
	defer media.Body.Close()

	data, err := io.ReadAll(io.LimitReader(media.Body, m.maxBytes+1))
	if err != nil {
		return models.Attachment{}, apperr.Validation("failed to read media: %v", err)
	}
	if int64(len(data)) > m.maxBytes {
		return models.Attachment{}, apperr.Validation("attachment exceeds %d bytes", m.maxBytes)
	}

	name := cleanFilename(media.Name)
	contentType := resolveContentType(media.ContentType, name, data)
	if !kind.Accepts(contentType) {
		return models.Attachment{}, apperr.Validation("%s is not a valid %s attachment", contentType, kind)
	}

	id, err := newAttachmentID(m.now())
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to generate attachment id: %w", err)
	}

	att := models.Attachment{ID: id, Kind: kind, Filename: name, Size: int64(len(data))}
	url, err := m.blob.Upload(ctx, objectName(att), data, contentType)
	if err != nil {
		return models.Attachment{}, apperr.Upload(err)
	}
	att.URL = url

	log.Debug().
		Str("attachment_id", id).
		Str("kind", string(kind)).
		Int64("size", att.Size).
		Msg("Attachment uploaded")

	return att, nil
}

// Discard deletes the blob behind att
func (m *AttachmentManager) Discard(ctx context.Context, att models.Attachment) error {
	if err := m.blob.Delete(ctx, objectName(att)); err != nil {
		return fmt.Errorf("failed to delete attachment %s: %w", att.ID, err)
	}
	return nil
}

func objectName(att models.Attachment) string {
	return att.ID + "_" + att.Filename
}

// newAttachmentID is the creation time in milliseconds plus a random suffix
func newAttachmentID(now time.Time) (string, error) {
	suffix := make([]byte, suffixLength)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(suffixChars))))
		if err != nil {
			return "", err
		}
		suffix[i] = suffixChars[n.Int64()]
	}
	return fmt.Sprintf("%d_%s", now.UnixMilli(), suffix), nil
}

func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "attachment"
	}
	return name
}

// resolveContentType prefers the declared type, then the extension, then sniffing
func resolveContentType(declared, name string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
