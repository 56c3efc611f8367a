package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
)

// File is an opaque handle to binary content awaiting upload.
type File interface {
	Name() string
	// ContentType may be empty when the source does not know it.
	ContentType() string
	Open() (io.ReadCloser, error)
}

type multipartFile struct {
	header *multipart.FileHeader
}

// FromMultipart wraps an uploaded form file.
func FromMultipart(header *multipart.FileHeader) File {
	return multipartFile{header: header}
}

func (f multipartFile) Name() string        { return f.header.Filename }
func (f multipartFile) ContentType() string { return f.header.Header.Get("Content-Type") }
func (f multipartFile) Open() (io.ReadCloser, error) {
	return f.header.Open()
}

type pathFile struct {
	path string
}

// FromPath wraps a file on disk.
func FromPath(path string) File {
	return pathFile{path: path}
}

func (f pathFile) Name() string                 { return filepath.Base(f.path) }
func (f pathFile) ContentType() string          { return "" }
func (f pathFile) Open() (io.ReadCloser, error) { return os.Open(f.path) }

type bytesFile struct {
	name        string
	contentType string
	data        []byte
}

// FromBytes wraps in-memory content.
func FromBytes(name string, data []byte, contentType string) File {
	return bytesFile{name: name, contentType: contentType, data: data}
}

func (f bytesFile) Name() string        { return f.name }
func (f bytesFile) ContentType() string { return f.contentType }
func (f bytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// FromDataURL decodes a browser-style "data:<mime>;base64,<payload>" string.
func FromDataURL(name, dataURL string) (File, error) {
	mimeType, payload := splitDataURL(dataURL)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &EncodingError{FileName: name, Err: fmt.Errorf("decode data url: %w", err)}
	}
	return FromBytes(name, data, mimeType), nil
}

// StripDataURIPrefix removes a leading "data:<mime>;base64," marker, leaving pure payload.
// Strings without the marker are returned unchanged.
func StripDataURIPrefix(s string) string {
	_, payload := splitDataURL(s)
	return payload
}

func splitDataURL(s string) (mimeType, payload string) {
	if !strings.HasPrefix(s, "data:") {
		return "", s
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return "", s
	}
	meta := strings.TrimPrefix(s[:comma], "data:")
	meta = strings.TrimSuffix(meta, ";base64")
	return meta, s[comma+1:]
}
