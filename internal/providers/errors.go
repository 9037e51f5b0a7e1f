package providers

import (
	"context"
	"errors"
	"strings"

	"researchmcp/internal/util"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, util.ErrMissingCredential):
		return ErrorPermanent
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTransient
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate limit"), strings.Contains(e, "rate_limit"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context length"), strings.Contains(e, "context_length"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"),
		strings.Contains(e, "overloaded"), strings.Contains(e, " 502"), strings.Contains(e, " 503"), strings.Contains(e, " 529"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// Sentinel maps the class to the matching util error.
func (t ErrorType) Sentinel() error {
	switch t {
	case ErrorQuota:
		return util.ErrQuotaExhausted
	case ErrorRate:
		return util.ErrRateLimited
	case ErrorTransient:
		return util.ErrTransient
	case ErrorContext:
		return util.ErrContextTooLong
	case ErrorPermanent:
		return util.ErrPermanent
	default:
		return nil
	}
}
