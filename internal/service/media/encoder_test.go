package media

import (
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type brokenFile struct{}

func (brokenFile) Name() string        { return "broken.pdf" }
func (brokenFile) ContentType() string { return "application/pdf" }
func (brokenFile) Open() (io.ReadCloser, error) {
	return nil, errors.New("handle revoked")
}

func TestEncodeUsesDeclaredType(t *testing.T) {
	enc := NewEncoder(0)
	out, err := enc.Encode(FromBytes("notes.txt", []byte("hello"), "text/plain"))
	if err != nil {
		t.Fatalf("Encode err: %v", err)
	}
	if out.Payload != base64.StdEncoding.EncodeToString([]byte("hello")) {
		t.Fatalf("unexpected payload %q", out.Payload)
	}
	if out.MimeType != "text/plain" {
		t.Fatalf("unexpected mime %q", out.MimeType)
	}
	if out.Size != 5 {
		t.Fatalf("unexpected size %d", out.Size)
	}
}

func TestEncodeSniffsMissingType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pixel.png")
	if err := os.WriteFile(path, pngHeader, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	out, err := NewEncoder(0).Encode(FromPath(path))
	if err != nil {
		t.Fatalf("Encode err: %v", err)
	}
	if out.MimeType != "image/png" {
		t.Fatalf("expected image/png, got %q", out.MimeType)
	}
}

func TestEncodeReadFailure(t *testing.T) {
	_, err := NewEncoder(0).Encode(brokenFile{})

	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %T: %v", err, err)
	}
	if encErr.FileName != "broken.pdf" {
		t.Fatalf("unexpected file name %q", encErr.FileName)
	}
}

func TestEncodeRejectsOversizedFile(t *testing.T) {
	_, err := NewEncoder(4).Encode(FromBytes("big.bin", []byte("12345"), ""))

	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
}

func TestFromDataURLStripsPrefix(t *testing.T) {
	raw := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
	file, err := FromDataURL("pixel.png", raw)
	if err != nil {
		t.Fatalf("FromDataURL err: %v", err)
	}
	if file.ContentType() != "image/png" {
		t.Fatalf("unexpected content type %q", file.ContentType())
	}

	out, err := NewEncoder(0).Encode(file)
	if err != nil {
		t.Fatalf("Encode err: %v", err)
	}
	if out.Payload != base64.StdEncoding.EncodeToString(pngHeader) {
		t.Fatalf("payload should be pure base64, got %q", out.Payload)
	}
}

func TestStripDataURIPrefix(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "data:application/pdf;base64,QUJD", want: "QUJD"},
		{in: "QUJD", want: "QUJD"},
		{in: "data:broken", want: "data:broken"},
	}

	for _, tc := range cases {
		if got := StripDataURIPrefix(tc.in); got != tc.want {
			t.Errorf("StripDataURIPrefix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFromDataURLInvalidPayload(t *testing.T) {
	if _, err := FromDataURL("x", "data:text/plain;base64,@@@"); err == nil {
		t.Fatal("expected decode error")
	}
}
