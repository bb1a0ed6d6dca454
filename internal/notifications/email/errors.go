// Package email renders account recovery emails and sends them through an
// external EmailProvider (AWS SES), either inline from the API process or
// from the SQS-driven email worker.
package email

import (
	"errors"

	"coachkit/internal/types"
)

// ErrRecipientBlocked indicates the provider refused the recipient. Retrying
// the same message cannot succeed.
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// IsBlocklistError reports whether err means the recipient is blocked, either
// as the sentinel or as the AppError code the SES client maps rejections to.
func IsBlocklistError(err error) bool {
	if errors.Is(err, ErrRecipientBlocked) {
		return true
	}
	return types.HasCode(err, types.ErrCodeValidationEmailBlocked)
}
