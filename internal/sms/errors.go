package sms

import "errors"

var (
	ErrNotConfigured       = errors.New("sms service not configured")
	ErrInvalidPhoneNumber  = errors.New("invalid phone number format")
	ErrRecipientNotAllowed = errors.New("recipient not in allowed numbers")
	ErrQuotaExceeded       = errors.New("daily sms limit exceeded")
	ErrProviderError       = errors.New("sms provider error")
	ErrTemplateNotFound    = errors.New("sms template not found")
)

// Messages returned to callers in DeliveryResult.Error. These strings are
// shown verbatim in the portal, keep them stable.
const (
	msgNotConfigured       = "SMS service not configured"
	msgInvalidPhoneNumber  = "Invalid phone number format"
	msgRecipientNotAllowed = "Recipient not in allowed numbers"
	msgQuotaExceeded       = "Daily SMS limit exceeded"
	msgTemplateNotFound    = "SMS template not found"
)

// Reason maps a gateway error to a short metrics/log label.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrInvalidPhoneNumber):
		return "invalid_phone"
	case errors.Is(err, ErrRecipientNotAllowed):
		return "not_allowed"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrTemplateNotFound):
		return "template_not_found"
	case errors.Is(err, ErrProviderError):
		return "provider_error"
	default:
		return "unknown"
	}
}
