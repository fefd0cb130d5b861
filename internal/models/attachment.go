package models

import (
	"fmt"
	"strings"
)

// AttachmentKind is the closed set of attachment variants.
// Every switch over it handles all three kinds and rejects anything else.
type AttachmentKind string

const (
	KindImage AttachmentKind = "image"
	KindVideo AttachmentKind = "video"
	KindFile  AttachmentKind = "file"
)

// ParseAttachmentKind validates a wire value
func ParseAttachmentKind(s string) (AttachmentKind, error) {
	switch k := AttachmentKind(s); k {
	case KindImage, KindVideo, KindFile:
		return k, nil
	default:
		return "", fmt.Errorf("unknown attachment kind %q", s)
	}
}

// IsImage reports whether the attachment can be used as a preview
func (k AttachmentKind) IsImage() bool {
	switch k {
	case KindImage:
		return true
	case KindVideo, KindFile:
		return false
	default:
		return false
	}
}

var documentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
}

// Accepts reports whether contentType is valid for the kind
func (k AttachmentKind) Accepts(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch k {
	case KindImage:
		return strings.HasPrefix(ct, "image/")
	case KindVideo:
		return strings.HasPrefix(ct, "video/")
	case KindFile:
		return documentTypes[ct]
	default:
		return false
	}
}

// Attachment is a media object bound to a reminder
type Attachment struct {
	ID       string         `json:"id"`
	Kind     AttachmentKind `json:"type"`
	URL      string         `json:"url"`
	Filename string         `json:"filename"`
	Size     int64          `json:"size"`
}
