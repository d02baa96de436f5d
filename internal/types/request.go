package types

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MaxImageBytes is the largest decoded image accepted by the pipeline.
const MaxImageBytes = 10 << 20

// MaxCommentLength bounds the optional user comment, in characters.
const MaxCommentLength = 500

// Platform identifies the client that submitted a request.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// PipelineRequest is one accepted appraisal request. It is not modified after
// NewPipelineRequest returns.
type PipelineRequest struct {
	Image    []byte    `validate:"required,min=1,max=10485760"`
	MIMEType string    `validate:"required,oneof=image/jpeg image/png image/webp image/gif image/heic"`
	Comment  string    `validate:"max=500"`
	Platform Platform  `validate:"required,oneof=web ios android"`
	OwnerID  uuid.UUID `validate:"-"`
}

var validate = validator.New()

// requestFields maps struct fields to the names clients send.
var requestFields = map[string]string{
	"Image":    "image_base64",
	"MIMEType": "image_base64",
	"Comment":  "user_comment",
	"Platform": "platform",
}

// NewPipelineRequest sniffs the image type and validates the request.
// Any failure wraps ErrMalformedRequest.
func NewPipelineRequest(image []byte, comment string, platform Platform, owner uuid.UUID) (*PipelineRequest, error) {
	if platform == "" {
		platform = PlatformWeb
	}
	req := &PipelineRequest{
		Image:    image,
		MIMEType: SniffImageType(image),
		Comment:  strings.TrimSpace(comment),
		Platform: platform,
		OwnerID:  owner,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks the request fields.
func (r *PipelineRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "request", Message: err.Error()}
	}

	fe := fieldErrs[0]
	field := requestFields[fe.Field()]
	if field == "" {
		field = strings.ToLower(fe.Field())
	}
	return &ValidationError{Field: field, Message: describeTag(fe)}
}

// Anonymous reports whether the request has no authenticated owner.
func (r *PipelineRequest) Anonymous() bool {
	return r.OwnerID == uuid.Nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Field() + "." + fe.Tag() {
	case "Image.required", "Image.min":
		return "image is required"
	case "Image.max":
		return "image exceeds 10 MiB"
	case "MIMEType.required", "MIMEType.oneof":
		return "unsupported image format"
	case "Comment.max":
		return "comment is too long"
	case "Platform.required", "Platform.oneof":
		return "platform must be one of web, ios, android"
	}
	return "failed on " + fe.Tag()
}

// DecodeImageBase64 decodes a base64 image, accepting an optional data URL
// prefix such as "data:image/png;base64,".
func DecodeImageBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &ValidationError{Field: "image_base64", Message: "image is required"}
	}
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, &ValidationError{Field: "image_base64", Message: "invalid data URL"}
		}
		s = s[idx+1:]
	}
	if base64.StdEncoding.DecodedLen(len(s)) > MaxImageBytes+3 {
		return nil, &ValidationError{Field: "image_base64", Message: "image exceeds 10 MiB"}
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, &ValidationError{Field: "image_base64", Message: "invalid base64 encoding"}
		}
	}
	return data, nil
}

// SniffImageType returns the MIME type of an image payload, or
// "application/octet-stream" when it is not a recognized image.
func SniffImageType(data []byte) string {
	if isHEIC(data) {
		return "image/heic"
	}
	ct := http.DetectContentType(data)
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	return ct
}

// isHEIC checks the ISO-BMFF ftyp box for HEIF brands.
func isHEIC(data []byte) bool {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "hevc", "hevx", "mif1", "msf1":
		return true
	}
	return false
}

// ImageExtension returns a file extension for a MIME type.
func ImageExtension(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/heic":
		return "heic"
	default:
		return "jpg"
	}
}
