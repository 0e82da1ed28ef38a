package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Error Kinds
// ============================================================================

// ErrorKind classifies every failure the SDK surfaces to callers.
type ErrorKind string

const (
	KindNotAuthenticated      ErrorKind = "not_authenticated"
	KindTokenExpired          ErrorKind = "token_expired"
	KindRefreshFailed         ErrorKind = "refresh_failed"
	KindCancelled             ErrorKind = "cancelled"
	KindProviderError         ErrorKind = "provider_error"
	KindBiometricFailed       ErrorKind = "biometric_failed"
	KindBiometricNotAvailable ErrorKind = "biometric_not_available"
	KindInvalidCredentials    ErrorKind = "invalid_credentials"
	KindInvalidConfiguration  ErrorKind = "invalid_configuration"
	KindNetworkError          ErrorKind = "network_error"
	KindStorageFailed         ErrorKind = "storage_failed"
	KindUnknown               ErrorKind = "unknown"
)

// ============================================================================
// Error - the SDK error type
// ============================================================================

// Error is the error value returned by the Session Manager and the OAuth
// exchange functions. It is a plain value: two errors with the same Kind and
// Detail compare equal with ==, which keeps test assertions deterministic.
type Error struct {
	// Kind is the failure classification
	Kind ErrorKind

	// Detail is diagnostic text (provider response body, storage error, ...)
	Detail string
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Detail == "" {
		return "authsdk: " + string(e.Kind)
	}
	return fmt.Sprintf("authsdk: %s: %s", e.Kind, e.Detail)
}

// Is reports whether target is an Error of the same kind. A target without a
// Detail matches any detail, so the Err* sentinels work with errors.Is.
func (e Error) Is(target error) bool {
	var t Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Detail == "" || t.Detail == e.Detail
}

// ============================================================================
// Sentinels and constructors
// ============================================================================

var (
	ErrNotAuthenticated      = Error{Kind: KindNotAuthenticated}
	ErrTokenExpired          = Error{Kind: KindTokenExpired}
	ErrRefreshFailed         = Error{Kind: KindRefreshFailed}
	ErrCancelled             = Error{Kind: KindCancelled}
	ErrProviderError         = Error{Kind: KindProviderError}
	ErrBiometricFailed       = Error{Kind: KindBiometricFailed}
	ErrBiometricNotAvailable = Error{Kind: KindBiometricNotAvailable}
	ErrInvalidCredentials    = Error{Kind: KindInvalidCredentials}
	ErrInvalidConfiguration  = Error{Kind: KindInvalidConfiguration}
	ErrNetworkError          = Error{Kind: KindNetworkError}
	ErrStorageFailed         = Error{Kind: KindStorageFailed}
	ErrUnknown               = Error{Kind: KindUnknown}
)

func RefreshFailed(detail string) Error        { return Error{Kind: KindRefreshFailed, Detail: detail} }
func ProviderError(detail string) Error        { return Error{Kind: KindProviderError, Detail: detail} }
func BiometricFailed(detail string) Error      { return Error{Kind: KindBiometricFailed, Detail: detail} }
func InvalidConfiguration(detail string) Error { return Error{Kind: KindInvalidConfiguration, Detail: detail} }
func NetworkError(detail string) Error         { return Error{Kind: KindNetworkError, Detail: detail} }
func StorageFailed(detail string) Error        { return Error{Kind: KindStorageFailed, Detail: detail} }
func Unknown(detail string) Error              { return Error{Kind: KindUnknown, Detail: detail} }

// newError builds an Error of the given kind.
func newError(kind ErrorKind, detail string) Error {
	return Error{Kind: kind, Detail: detail}
}

// classify converts an arbitrary error returned by a capability into an
// Error. SDK errors pass through untouched, context errors become Cancelled
// and everything else is reported with the fallback kind.
func classify(err error, fallback ErrorKind) error {
	if err == nil {
		return nil
	}

	var sdkErr Error
	if errors.As(err, &sdkErr) {
		return sdkErr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindCancelled, err.Error())
	}

	return newError(fallback, err.Error())
}

// ============================================================================
// OAuth2 error responses
// ============================================================================

const (
	// OAuth2 error codes per RFC 6749 that the SDK inspects
	ErrorCodeInvalidGrant  = "invalid_grant"
	ErrorCodeInvalidClient = "invalid_client"
	ErrorCodeMFARequired   = "mfa_required"
	ErrorCodeAccessDenied  = "access_denied"
)

// ErrorResponse represents a standard OAuth2 error response per RFC 6749.
type ErrorResponse struct {
	// Error is the OAuth2 error code (e.g., "invalid_request", "invalid_grant")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description"`
}

// MFARequiredError is returned by PasswordGrant when the account has MFA
// enabled. Complete the sign-in with MFAOTPGrant.
type MFARequiredError struct {
	// MFAToken is the token to use when submitting the MFA response
	MFAToken string `json:"mfa_token"`

	// Methods lists the available MFA methods (e.g., ["totp", "backup_codes"])
	Methods []string `json:"mfa_methods"`
}

// Error implements the error interface.
func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("MFA required: available methods=%v", e.Methods)
}

// parseMFAChallenge returns an MFARequiredError when a 409 response carries an
// mfa_required body, nil otherwise.
func parseMFAChallenge(statusCode int, body []byte) *MFARequiredError {
	if statusCode != http.StatusConflict {
		return nil
	}

	var mfaResp struct {
		Error      string   `json:"error"`
		MFAToken   string   `json:"mfa_token"`
		MFAMethods []string `json:"mfa_methods"`
	}
	if err := json.Unmarshal(body, &mfaResp); err != nil {
		return nil
	}
	if mfaResp.Error != ErrorCodeMFARequired || mfaResp.MFAToken == "" {
		return nil
	}

	return &MFARequiredError{
		MFAToken: mfaResp.MFAToken,
		Methods:  mfaResp.MFAMethods,
	}
}
