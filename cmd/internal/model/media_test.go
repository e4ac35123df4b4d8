package model

import (
	"errors"
	"testing"
)

func TestNewMedia(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		contentType string
		data        []byte
		wantMIME    string
		wantErr     bool
	}{
		{name: "png", contentType: "image/png", data: []byte{1}, wantMIME: "image/png"},
		{name: "jpeg with params", contentType: "image/jpeg; q=0.9", data: []byte{1}, wantMIME: "image/jpeg"},
		{name: "uppercase normalized", contentType: "IMAGE/PNG", data: []byte{1}, wantMIME: "image/png"},
		{name: "missing", contentType: "", data: []byte{1}, wantErr: true},
		{name: "whitespace only", contentType: "   ", data: []byte{1}, wantErr: true},
		{name: "unparseable", contentType: "not a mime;;;", data: []byte{1}, wantErr: true},
		{name: "no subtype", contentType: "image", data: []byte{1}, wantErr: true},
		{name: "empty payload", contentType: "image/png", data: nil, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m, err := NewMedia(tc.contentType, tc.data)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", m)
				}
				var merr *Error
				if !errors.As(err, &merr) || merr.Kind != ErrInvalidRequest {
					t.Fatalf("expected invalid_request kind, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.MIMEType != tc.wantMIME {
				t.Fatalf("MIMEType=%q want=%q", m.MIMEType, tc.wantMIME)
			}
		})
	}
}

func TestMediaFormat(t *testing.T) {
	t.Parallel()

	m, err := NewMedia("image/webp", []byte{1})
	if err != nil {
		t.Fatalf("new media: %v", err)
	}
	if !m.IsImage() {
		t.Fatalf("expected IsImage=true")
	}
	if got := m.Format(); got != "webp" {
		t.Fatalf("Format()=%q want=webp", got)
	}
}
