// Package reply turns webhook response bodies into display text.
package reply

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// Kind tags which response shape produced the display text.
type Kind int

const (
	KindRawText Kind = iota
	KindArrayWithOutput
	KindObjectWithMessage
	KindObjectWithOutput
)

func (k Kind) String() string {
	switch k {
	case KindArrayWithOutput:
		return "array-with-output"
	case KindObjectWithMessage:
		return "object-with-message"
	case KindObjectWithOutput:
		return "object-with-output"
	default:
		return "raw-text"
	}
}

// Envelope is the classified response body.
type Envelope struct {
	Kind Kind
	// Text is the extracted value before newline canonicalization.
	Text string
	Raw  string
}

// Parse classifies raw in priority order: array whose first element has output,
// object with message, object with output, raw text. Unparsable input is raw text.
func Parse(raw string) Envelope {
	data := bytes.TrimSpace([]byte(raw))
	if len(data) == 0 || !json.Valid(data) {
		return Envelope{Kind: KindRawText, Text: raw, Raw: raw}
	}

	switch data[0] {
	case '[':
		if text, ok := field(data, "[0]", "output"); ok {
			return Envelope{Kind: KindArrayWithOutput, Text: text, Raw: raw}
		}
	case '{':
		if text, ok := field(data, "message"); ok {
			return Envelope{Kind: KindObjectWithMessage, Text: text, Raw: raw}
		}
		if text, ok := field(data, "output"); ok {
			return Envelope{Kind: KindObjectWithOutput, Text: text, Raw: raw}
		}
	}

	return Envelope{Kind: KindRawText, Text: raw, Raw: raw}
}

// Display returns the text with escaped newline markers turned into line breaks.
func (e Envelope) Display() string {
	return CanonicalizeNewlines(e.Text)
}

// Normalize extracts the display string from a response body.
func Normalize(raw string) string {
	return Parse(raw).Display()
}

// CanonicalizeNewlines replaces literal `\n\n` and then `\n` sequences with line breaks.
func CanonicalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, `\n\n`, "\n\n")
	return strings.ReplaceAll(s, `\n`, "\n")
}

// field reads the value at path when it is present and truthy. Strings are unescaped,
// other JSON values are returned as their literal text.
func field(data []byte, path ...string) (string, bool) {
	value, dataType, _, err := jsonparser.Get(data, path...)
	if err != nil {
		return "", false
	}

	switch dataType {
	case jsonparser.NotExist, jsonparser.Null:
		return "", false
	case jsonparser.String:
		text, err := jsonparser.ParseString(value)
		if err != nil || text == "" {
			return "", false
		}
		return text, true
	case jsonparser.Boolean:
		if string(value) == "false" {
			return "", false
		}
	case jsonparser.Number:
		if n, err := strconv.ParseFloat(string(value), 64); err == nil && n == 0 {
			return "", false
		}
	}

	return string(value), true
}
