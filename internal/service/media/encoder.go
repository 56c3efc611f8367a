package media

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const genericMIME = "application/octet-stream"

// EncodingError reports that a file could not be read or encoded.
type EncodingError struct {
	FileName string
	Err      error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.FileName, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Encoded is a file ready for a JSON payload.
type Encoded struct {
	Payload  string
	MimeType string
	Size     int
}

// Encoder turns file handles into base64 payloads.
type Encoder struct {
	// MaxBytes rejects larger files when positive.
	MaxBytes int64
}

// NewEncoder returns an Encoder with the given size limit (0 disables it).
func NewEncoder(maxBytes int64) *Encoder {
	return &Encoder{MaxBytes: maxBytes}
}

// Encode reads file fully and returns its base64 payload and MIME type.
func (e *Encoder) Encode(file File) (Encoded, error) {
	name := file.Name()

	rc, err := file.Open()
	if err != nil {
		return Encoded{}, &EncodingError{FileName: name, Err: err}
	}
	defer rc.Close()

	var reader io.Reader = rc
	if e.MaxBytes > 0 {
		reader = io.LimitReader(rc, e.MaxBytes+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return Encoded{}, &EncodingError{FileName: name, Err: err}
	}
	if e.MaxBytes > 0 && int64(len(data)) > e.MaxBytes {
		return Encoded{}, &EncodingError{FileName: name, Err: fmt.Errorf("file exceeds %d bytes", e.MaxBytes)}
	}

	return Encoded{
		Payload:  base64.StdEncoding.EncodeToString(data),
		MimeType: resolveMIME(file.ContentType(), data),
		Size:     len(data),
	}, nil
}

func resolveMIME(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != genericMIME {
		return declared
	}
	return mimetype.Detect(data).String()
}
