package transcription

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrUnreadableAudio is returned when a payload is not a decodable audio data URI.
	ErrUnreadableAudio = errors.New("unreadable audio payload")
	// ErrPayloadTooLarge is returned when the decoded payload exceeds the configured cap.
	ErrPayloadTooLarge = errors.New("audio payload too large")
)

const fallbackExtension = ".webm"

// Payload is a decoded data URI.
type Payload struct {
	MediaType string
	Data      []byte
}

// Filename returns a name whose extension matches the payload's media type.
func (p *Payload) Filename() string {
	ext := ""
	if m := mimetype.Lookup(p.MediaType); m != nil {
		ext = m.Extension()
	}
	if ext == "" {
		ext = mimetype.Detect(p.Data).Extension()
	}
	if ext == "" {
		ext = fallbackExtension
	}
	return "audio" + ext
}

// ParseDataURI decodes a base64 data URI of the form "data:<mimetype>;base64,<data>".
// A maxBytes of zero disables the size cap.
func ParseDataURI(uri string, maxBytes int) (*Payload, error) {
	rest, ok := cutPrefixFold(strings.TrimSpace(uri), "data:")
	if !ok {
		return nil, fmt.Errorf("%w: missing data: scheme", ErrUnreadableAudio)
	}

	header, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing data separator", ErrUnreadableAudio)
	}

	header, ok = cutSuffixFold(header, ";base64")
	if !ok {
		return nil, fmt.Errorf("%w: payload must be base64 encoded", ErrUnreadableAudio)
	}

	mediaType := ""
	if header != "" {
		mt, _, err := mime.ParseMediaType(header)
		if err != nil {
			return nil, fmt.Errorf("%w: media type %q: %v", ErrUnreadableAudio, header, err)
		}
		if !strings.HasPrefix(mt, "audio/") && !strings.HasPrefix(mt, "video/") && mt != "application/ogg" && mt != "application/octet-stream" {
			return nil, fmt.Errorf("%w: unsupported media type %q", ErrUnreadableAudio, mt)
		}
		mediaType = mt
	}

	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(encoded)) > maxBytes+2 {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, maxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64: %v", ErrUnreadableAudio, err)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnreadableAudio)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, maxBytes)
	}

	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return nil, fmt.Errorf("%w: content looks like %s", ErrUnreadableAudio, detected.String())
		}
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = detected.String()
	}

	return &Payload{MediaType: mediaType, Data: data}, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

func cutSuffixFold(s, suffix string) (string, bool) {
	if len(s) < len(suffix) || !strings.EqualFold(s[len(s)-len(suffix):], suffix) {
		return s, false
	}
	return s[:len(s)-len(suffix)], true
}
