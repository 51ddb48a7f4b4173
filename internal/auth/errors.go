// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package auth

// Reasons surfaced to callers. They are observable, not secret.
const (
	ReasonInvalidCredentials = "Invalid credentials"
	ReasonAccountLocked      = "Account is locked"
	ReasonAccountInactive    = "Account is inactive"
	ReasonMFARequired        = "MFA code required"
	ReasonInvalidMFA         = "Invalid MFA code"
	ReasonPasswordExpired    = "Password has expired"
	ReasonLockoutThreshold   = "Maximum login attempts exceeded"
)

// Error codes.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeAccountInactive    = "AUTH_ACCOUNT_INACTIVE"
	CodeMFARequired        = "AUTH_MFA_REQUIRED"
	CodeInvalidMFA         = "AUTH_INVALID_MFA"
	CodePasswordExpired    = "AUTH_PASSWORD_EXPIRED"
	CodePasswordReused     = "AUTH_PASSWORD_REUSED"
	CodeWeakPassword       = "AUTH_WEAK_PASSWORD"
	CodeInvalidUsername    = "AUTH_INVALID_USERNAME"
	CodeInvalidEmail       = "AUTH_INVALID_EMAIL"
	CodeUsernameTaken      = "AUTH_USERNAME_TAKEN"
	CodeEmailTaken         = "AUTH_EMAIL_TAKEN"
	CodeUserNotFound       = "USER_NOT_FOUND"

	CodeSessionTokenEmpty = "SESSION_TOKEN_EMPTY"
	CodeSessionInvalid    = "SESSION_INVALID"
	CodeSessionExpired    = "SESSION_EXPIRED"
	CodeSessionLoggedOut  = "SESSION_LOGGED_OUT"
	CodeSessionsDisabled  = "SESSIONS_DISABLED"
)
