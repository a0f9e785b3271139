package negotiation

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"
)

// Content types and framing of negotiation payloads.
const (
	ContentTypeSDP   = "application/sdp"
	multipartMixed   = "multipart/mixed"
	payloadBoundary  = "boundary1"
	iconDisposition  = "icon"
	maxThumbnailSize = 1 << 20
)

// Thumbnail is a small preview embedded inline in the negotiation payload.
type Thumbnail struct {
	ContentType string
	Data        []byte
}

// Payload is an encoded negotiation body with its content type.
type Payload struct {
	Body        []byte
	ContentType string
}

// BuildPayload encodes sdpBody, wrapping it with a base64 thumbnail part
// into a multipart/mixed body when thumb is non-nil.
func BuildPayload(sdpBody []byte, thumb *Thumbnail) (Payload, error) {
	if thumb == nil || len(thumb.Data) == 0 {
		return Payload{Body: sdpBody, ContentType: ContentTypeSDP}, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(payloadBoundary); err != nil {
		return Payload{}, err
	}

	sdpPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":   {ContentTypeSDP},
		"Content-Length": {strconv.Itoa(len(sdpBody))},
	})
	if err != nil {
		return Payload{}, err
	}
	sdpPart.Write(sdpBody)

	encoded := base64.StdEncoding.EncodeToString(thumb.Data)
	iconPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {thumb.ContentType},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Id":                {"<" + iconContentIDValue + ">"},
		"Content-Length":            {strconv.Itoa(len(encoded))},
		"Content-Disposition":       {iconDisposition},
	})
	if err != nil {
		return Payload{}, err
	}
	iconPart.Write([]byte(encoded))

	if err := w.Close(); err != nil {
		return Payload{}, err
	}
	return Payload{
		Body:        buf.Bytes(),
		ContentType: mime.FormatMediaType(multipartMixed, map[string]string{"boundary": payloadBoundary}),
	}, nil
}

// SplitPayload extracts the SDP body and the optional thumbnail from a
// negotiation body. An empty content type is treated as plain SDP.
func SplitPayload(body []byte, contentType string) ([]byte, *Thumbnail, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil, ErrEmptyPayload
	}
	if contentType == "" {
		return body, nil, nil
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: content type %q", ErrMalformed, contentType)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return body, nil, nil
	}

	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	var sdpBody []byte
	var thumb *Thumbnail
	for {
		part, err := mr.NextRawPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		data, err := io.ReadAll(io.LimitReader(part, 4*maxThumbnailSize))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		ctype := part.Header.Get("Content-Type")
		switch {
		case strings.HasPrefix(strings.ToLower(ctype), ContentTypeSDP):
			sdpBody = data
		case isIconPart(part.Header):
			t, err := decodeThumbnail(ctype, part.Header.Get("Content-Transfer-Encoding"), data)
			if err != nil {
				return nil, nil, err
			}
			thumb = t
		}
	}
	if len(bytes.TrimSpace(sdpBody)) == 0 {
		return nil, nil, ErrEmptyPayload
	}
	return sdpBody, thumb, nil
}

func isIconPart(h textproto.MIMEHeader) bool {
	if strings.EqualFold(strings.TrimSpace(h.Get("Content-Disposition")), iconDisposition) {
		return true
	}
	return strings.Trim(h.Get("Content-Id"), "<> ") == iconContentIDValue
}

func decodeThumbnail(ctype, encoding string, data []byte) (*Thumbnail, error) {
	if !strings.EqualFold(strings.TrimSpace(encoding), "base64") {
		return &Thumbnail{ContentType: ctype, Data: data}, nil
	}
	clean := strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, string(data))
	decoded, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThumbnail, err)
	}
	if len(decoded) > maxThumbnailSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidThumbnail, len(decoded))
	}
	return &Thumbnail{ContentType: ctype, Data: decoded}, nil
}
