package model

import (
	"mime"
	"strconv"
	"strings"
)

// Media is a request-scoped attachment. The binary payload is never
// persisted; only the surrounding text survives in the transcript.
type Media struct {
	MIMEType string
	Data     []byte
}

// NewMedia validates contentType and wraps the payload.
//
// A missing or unparseable content type is a caller error; it is rejected
// here, before any provider call or store write can happen.
func NewMedia(contentType string, data []byte) (Media, error) {
	ct := strings.TrimSpace(contentType)
	if ct == "" {
		return Media{}, &Error{Kind: ErrInvalidRequest, Message: "attachment has no content type"}
	}

	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return Media{}, &Error{Kind: ErrInvalidRequest, Message: "unparseable attachment content type " + strconv.Quote(ct), Cause: err}
	}
	if !strings.Contains(mt, "/") {
		return Media{}, &Error{Kind: ErrInvalidRequest, Message: "attachment content type " + strconv.Quote(mt) + " is not type/subtype"}
	}
	if len(data) == 0 {
		return Media{}, &Error{Kind: ErrInvalidRequest, Message: "attachment is empty"}
	}

	return Media{MIMEType: mt, Data: data}, nil
}

// IsImage reports whether the media is an image.
func (m Media) IsImage() bool {
	return strings.HasPrefix(m.MIMEType, "image/")
}

// Format returns the MIME subtype ("png", "jpeg", ...).
func (m Media) Format() string {
	if i := strings.Index(m.MIMEType, "/"); i >= 0 {
		return m.MIMEType[i+1:]
	}
	return m.MIMEType
}
