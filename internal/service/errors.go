package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/source2social/internal/db"
)

var (
	// ErrSignatureInvalid 表示 webhook 签名缺失或不匹配，请求必须被拒绝。
	ErrSignatureInvalid = errors.New("webhook signature is missing or invalid")

	ErrPostNotFound       = errors.New("post not found")
	ErrPostPublished      = errors.New("post is already published")
	ErrInvalidTransition  = errors.New("post status does not allow this operation")
	ErrContentInvalid     = errors.New("post content is empty or exceeds the platform limit")
	ErrAuthRequired       = errors.New("platform authorization required")
	ErrCredentialNotFound = errors.New("oauth credential not found")
)

// ValidationError describes a structurally invalid request payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// GenerationError wraps a failed text-generation call. It is recorded on the
// post; it never aborts the rest of the delivery.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return "content generation failed: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// PublishError is a platform rejection or transport failure while publishing.
// Class is one of db.ErrorClassAuth, db.ErrorClassRateLimited or
// db.ErrorClassPublish.
type PublishError struct {
	Class      string
	StatusCode int
	Body       string
	RetryAfter *time.Time
	Err        error
}

func (e *PublishError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Body != "":
		return fmt.Sprintf("platform returned HTTP %d: %s", e.StatusCode, e.Body)
	case e.StatusCode > 0:
		return fmt.Sprintf("platform returned HTTP %d", e.StatusCode)
	case e.Err != nil && e.Class == db.ErrorClassAuth:
		return "platform authorization failed: " + e.Err.Error()
	case e.Err != nil:
		return "publish failed: " + e.Err.Error()
	default:
		return "publish failed"
	}
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsPublishAuth reports whether err is a credential rejection that survived
// the single refresh-and-retry.
func IsPublishAuth(err error) bool {
	var publishErr *PublishError
	return errors.As(err, &publishErr) && publishErr.Class == db.ErrorClassAuth
}

// IsRateLimited reports whether err is a platform rate-limit rejection.
func IsRateLimited(err error) bool {
	var publishErr *PublishError
	return errors.As(err, &publishErr) && publishErr.Class == db.ErrorClassRateLimited
}
