// ABOUTME: Parser for base64 data URIs carrying inbound voice notes
// ABOUTME: Extracts the MIME type and payload and maps the type to a file extension

package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDataURI is returned for payloads that are not base64 data URIs.
var ErrInvalidDataURI = errors.New("audio: invalid data uri")

// Payload is a decoded audio blob.
type Payload struct {
	MIMEType string
	Data     []byte
}

var extensions = map[string]string{
	"audio/ogg":   ".ogg",
	"audio/opus":  ".opus",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/mp4":   ".m4a",
	"audio/aac":   ".aac",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/webm":  ".webm",
	"audio/flac":  ".flac",
}

// ParseDataURI decodes "data:<mime>[;params];base64,<payload>".
func ParseDataURI(s string) (Payload, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return Payload{}, fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURI)
	}
	header, body, ok := strings.Cut(rest, ",")
	if !ok {
		return Payload{}, fmt.Errorf("%w: missing payload separator", ErrInvalidDataURI)
	}

	params := strings.Split(header, ";")
	mimeType := strings.ToLower(strings.TrimSpace(params[0]))
	if mimeType == "" || !strings.Contains(mimeType, "/") {
		return Payload{}, fmt.Errorf("%w: bad mime type %q", ErrInvalidDataURI, params[0])
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.TrimSpace(p) == "base64" {
			isBase64 = true
		}
	}
	if !isBase64 {
		return Payload{}, fmt.Errorf("%w: payload is not base64", ErrInvalidDataURI)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(body))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	if len(data) == 0 {
		return Payload{}, fmt.Errorf("%w: empty payload", ErrInvalidDataURI)
	}
	return Payload{MIMEType: mimeType, Data: data}, nil
}

// Extension returns the file extension for the payload, falling back to the MIME subtype.
func (p Payload) Extension() string {
	if ext, ok := extensions[p.MIMEType]; ok {
		return ext
	}
	_, sub, _ := strings.Cut(p.MIMEType, "/")
	if sub == "" {
		return ".bin"
	}
	return "." + sub
}
