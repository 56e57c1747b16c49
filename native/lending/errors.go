package lending

import "errors"

var (
	// ErrNilState is returned when the engine has not been wired to a
	// persistence backend.
	ErrNilState = errors.New("lending engine: state not configured")

	// ErrNotFound covers missing listings, assets and whitelists.
	ErrNotFound = errors.New("lending engine: not found")

	// ErrInvalidParameters is the umbrella for malformed listing input. The
	// specific reasons below wrap it so callers can match either level.
	ErrInvalidParameters = errors.New("lending engine: invalid parameters")

	// ErrPermissionDenied is the umbrella for caller authorisation failures.
	ErrPermissionDenied = errors.New("lending engine: permission denied")

	// Illegal state transitions.
	ErrAlreadyMatched   = errors.New("lending engine: listing already matched")
	ErrCanceled         = errors.New("lending engine: listing canceled")
	ErrCompleted        = errors.New("lending engine: listing completed")
	ErrNotMatched       = errors.New("lending engine: listing not matched")
	ErrPeriodNotElapsed = errors.New("lending engine: loan period not elapsed")
	ErrAssetLocked      = errors.New("lending engine: asset locked")

	// ErrAlreadyBorrowing guards the single-active-loan constraint.
	ErrAlreadyBorrowing = errors.New("lending engine: borrower already holds a loan")

	// ErrTransferFailure wraps token or asset transfer rejections raised by
	// the external collaborators.
	ErrTransferFailure = errors.New("lending engine: transfer failed")

	// ErrNotImplemented marks the relist/renew placeholders.
	ErrNotImplemented = errors.New("lending engine: operation not implemented")
)

// Specific parameter failures. Each wraps ErrInvalidParameters.
var (
	ErrPeriodOutOfRange    = wrapInvalid("period out of range")
	ErrSplitSum            = wrapInvalid("revenue split must sum to 100")
	ErrSplitThirdParty     = wrapInvalid("third-party share set without third party")
	ErrZeroOriginalOwner   = wrapInvalid("original owner required")
	ErrTooManyTokens       = wrapInvalid("too many revenue tokens")
	ErrTokenNotAllowed     = wrapInvalid("revenue token not on allow-list")
	ErrAssetNotLendable    = wrapInvalid("asset kind not lendable")
	ErrParameterMismatch   = wrapInvalid("agreement parameters do not match listing")
	ErrWhitelistNotFound   = wrapInvalid("whitelist does not exist")
	ErrZeroInitialCostArgs = wrapInvalid("initial cost must not be nil")
)

// Specific permission failures. Each wraps ErrPermissionDenied.
var (
	ErrNotOwner       = wrapDenied("caller is not the asset owner")
	ErrNotParty       = wrapDenied("caller is neither lender nor borrower")
	ErrSelfMatch      = wrapDenied("lender cannot borrow own listing")
	ErrNotWhitelisted = wrapDenied("caller not on listing whitelist")
)

type wrappedError struct {
	base error
	msg  string
}

func (e *wrappedError) Error() string { return e.base.Error() + ": " + e.msg }

func (e *wrappedError) Unwrap() error { return e.base }

func wrapInvalid(msg string) error { return &wrappedError{base: ErrInvalidParameters, msg: msg} }

func wrapDenied(msg string) error { return &wrappedError{base: ErrPermissionDenied, msg: msg} }
