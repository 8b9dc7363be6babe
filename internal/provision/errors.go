package provision

import (
	"context"
	"errors"

	"iepp.org/internal/apierr"
	"iepp.org/internal/identity"
	"iepp.org/internal/obs"
)

// providerError translates an identity provider failure into a client kind.
func providerError(err error, message string) error {
	switch {
	case errors.Is(err, identity.ErrInvalidEmail):
		return apierr.Wrap(err, apierr.KindInvalidEmail, "invalid email format")
	case errors.Is(err, identity.ErrWeakPassword):
		return apierr.Wrap(err, apierr.KindWeakPassword, "password rejected by identity provider")
	case errors.Is(err, identity.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return apierr.Wrap(err, apierr.KindProviderUnavailable, "identity provider unavailable")
	default:
		return apierr.Wrap(err, apierr.KindInternal, message)
	}
}

// claimsError classifies a failed role assignment. Transient provider
// failures stay retryable; anything else is a claims failure.
func claimsError(err error) error {
	if errors.Is(err, identity.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return apierr.Wrap(err, apierr.KindProviderUnavailable, "identity provider unavailable")
	}
	return apierr.Wrap(err, apierr.KindClaimsAssignmentFailed, "failed to assign role")
}

// outcome is the metric label for the result of one provisioning attempt.
func outcome(res Result, err error) string {
	switch {
	case err != nil:
		return string(apierr.KindOf(err))
	case res.Recovered:
		return "recovered"
	default:
		return "created"
	}
}

func recordOutcome(source string, res Result, err error) {
	obs.RecordProvision(source, outcome(res, err))
}
