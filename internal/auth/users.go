// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/aegis-pdp/aegis/internal/config"
	"github.com/aegis-pdp/aegis/internal/event"
	"github.com/aegis-pdp/aegis/internal/ids"
	"github.com/aegis-pdp/aegis/internal/store"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// NewUser is the input to Users.Create.
type NewUser struct {
	Username string
	Email    string
	Password string
	// Roles must already be known to the caller's role graph.
	Roles []string
}

// Users is the identity store. Usernames and emails are unique
// case-insensitively; both indexes are rebuilt from the store on construction.
type Users struct {
	store  store.Store[User]
	hasher PasswordHasher
	mfa    MFAVerifier
	events event.Emitter
	cfg    config.Config
	clock  func() time.Time
	logger *slog.Logger

	byUsername map[string]string
	byEmail    map[string]string

	// dummyHash is verified against when a username is unknown so that
	// response time does not reveal whether the account exists.
	dummyHash string
}

// UsersOption configures Users.
type UsersOption func(*Users)

// WithUsersClock sets the time source.
func WithUsersClock(clock func() time.Time) UsersOption {
	return func(u *Users) { u.clock = clock }
}

// WithUsersLogger sets the logger.
func WithUsersLogger(logger *slog.Logger) UsersOption {
	return func(u *Users) { u.logger = logger }
}

// NewUsers creates the identity store over st and loads its indexes.
func NewUsers(ctx context.Context, st store.Store[User], hasher PasswordHasher, mfa MFAVerifier, events event.Emitter, cfg config.Config, opts ...UsersOption) (*Users, error) {
	if st == nil {
		return nil, oops.Errorf("user store is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if mfa == nil {
		return nil, oops.Errorf("MFA verifier is required")
	}
	if events == nil {
		return nil, oops.Errorf("event emitter is required")
	}

	u := &Users{
		store:      st,
		hasher:     hasher,
		mfa:        mfa,
		events:     events,
		cfg:        cfg,
		clock:      time.Now,
		logger:     slog.Default(),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(u)
	}

	dummy := make([]byte, 16)
	if _, err := rand.Read(dummy); err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").Wrap(err)
	}
	hash, err := hasher.Hash(hex.EncodeToString(dummy))
	if err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").With("operation", "hash dummy credential").Wrap(err)
	}
	u.dummyHash = hash

	err = st.Iterate(ctx, func(id string, user User) error {
		u.byUsername[normalize(user.Username)] = id
		u.byEmail[normalize(user.Email)] = id
		return nil
	})
	if err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").With("operation", "load user index").Wrap(err)
	}
	return u, nil
}

// SetConfig replaces the settings used by later calls.
func (u *Users) SetConfig(cfg config.Config) {
	u.cfg = cfg
}

// Create validates and stores a new active user and emits userCreated.
func (u *Users) Create(ctx context.Context, in NewUser) (User, error) {
	if err := ValidateUsername(in.Username); err != nil {
		return User{}, err
	}
	if err := ValidateEmail(in.Email); err != nil {
		return User{}, err
	}
	if err := ValidatePassword(in.Password, u.cfg.PasswordPolicy); err != nil {
		return User{}, err
	}
	if _, taken := u.byUsername[normalize(in.Username)]; taken {
		return User{}, errutil.Conflict(CodeUsernameTaken).
			With("username", in.Username).
			Errorf("username already exists")
	}
	if _, taken := u.byEmail[normalize(in.Email)]; taken {
		return User{}, errutil.Conflict(CodeEmailTaken).
			With("email", in.Email).
			Errorf("email already exists")
	}

	hash, err := u.hasher.Hash(in.Password)
	if err != nil {
		return User{}, oops.Code("AUTH_CREATE_FAILED").With("operation", "hash password").Wrap(err)
	}

	now := u.clock()
	user := User{
		ID:                ids.New(),
		Username:          in.Username,
		Email:             in.Email,
		PasswordHash:      hash,
		Roles:             dedupe(in.Roles),
		DirectPermissions: []string{},
		Permissions:       []string{},
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
		PasswordChangedAt: now,
	}
	if err := u.store.Put(ctx, user.ID, user); err != nil {
		return User{}, oops.Code("AUTH_CREATE_FAILED").
			With("operation", "persist user").
			With("username", in.Username).
			Wrap(err)
	}
	u.byUsername[normalize(user.Username)] = user.ID
	u.byEmail[normalize(user.Email)] = user.ID

	u.logger.Info("user created", "user_id", user.ID, "username", user.Username)
	u.events.Emit(event.KindUserCreated, event.UserCreated{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
	return user.Clone(), nil
}

// Get returns the user with id.
func (u *Users) Get(ctx context.Context, id string) (User, error) {
	user, err := u.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return User{}, errutil.NotFound(CodeUserNotFound).With("user_id", id).Errorf("User not found")
	}
	if err != nil {
		return User{}, oops.Code("AUTH_LOOKUP_FAILED").With("user_id", id).Wrap(err)
	}
	return user.Clone(), nil
}

// FindByUsername returns the user with username, compared case-insensitively.
func (u *Users) FindByUsername(ctx context.Context, username string) (User, error) {
	id, ok := u.byUsername[normalize(username)]
	if !ok {
		return User{}, errutil.NotFound(CodeUserNotFound).With("username", username).Errorf("User not found")
	}
	return u.Get(ctx, id)
}

// List returns every user in creation order.
func (u *Users) List(ctx context.Context) ([]User, error) {
	users, err := store.List(ctx, u.store)
	if err != nil {
		return nil, oops.Code("AUTH_LIST_FAILED").Wrap(err)
	}
	for i := range users {
		users[i] = users[i].Clone()
	}
	return users, nil
}

// Save persists changes to an existing user. Username and email are immutable.
func (u *Users) Save(ctx context.Context, user User) error {
	user.UpdatedAt = u.clock()
	if err := u.store.Put(ctx, user.ID, user.Clone()); err != nil {
		return oops.Code("AUTH_UPDATE_FAILED").With("user_id", user.ID).Wrap(err)
	}
	return nil
}

// VerifyCredentials checks a login attempt and returns the user on success.
//
// The credential is verified before any account state is inspected, against
// a dummy hash when the username is unknown. A mismatch increments the
// failure counter; reaching the configured maximum locks the account and
// emits accountLocked. Locked accounts fail with a locked error even when
// the credential is right. Failed MFA codes count as failed attempts.
func (u *Users) VerifyCredentials(ctx context.Context, username, password, mfaCode string) (User, error) {
	var (
		user   User
		exists bool
		target = u.dummyHash
	)
	if id, ok := u.byUsername[normalize(username)]; ok {
		found, err := u.Get(ctx, id)
		if err != nil {
			return User{}, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by username").
				Wrap(err)
		}
		user, exists, target = found, true, found.PasswordHash
	}

	valid, verifyErr := u.hasher.Verify(password, target)
	if verifyErr != nil {
		if !exists {
			return User{}, invalidCredentials()
		}
		return User{}, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID).
			Wrap(verifyErr)
	}

	if !exists {
		return User{}, invalidCredentials()
	}
	if user.Locked {
		return User{}, errutil.Locked(CodeAccountLocked).
			With("user_id", user.ID).
			Errorf(ReasonAccountLocked)
	}
	if !user.Active {
		return User{}, errutil.Authentication(CodeAccountInactive).
			With("user_id", user.ID).
			Errorf(ReasonAccountInactive)
	}
	if !valid {
		if err := u.recordFailure(ctx, &user); err != nil {
			return User{}, err
		}
		return User{}, invalidCredentials()
	}

	now := u.clock()
	if u.cfg.EnableMultiFactorAuth && user.MFAEnabled {
		if mfaCode == "" {
			return User{}, errutil.Authentication(CodeMFARequired).
				With("user_id", user.ID).
				Errorf(ReasonMFARequired)
		}
		if !u.mfa.Verify(user.MFASecret, mfaCode, now) {
			if err := u.recordFailure(ctx, &user); err != nil {
				return User{}, err
			}
			return User{}, errutil.Authentication(CodeInvalidMFA).
				With("user_id", user.ID).
				Errorf(ReasonInvalidMFA)
		}
	}

	user.FailedAttempts = 0
	if maxAge := u.cfg.PasswordPolicy.MaxAge; maxAge > 0 && now.Sub(user.PasswordChangedAt) > maxAge {
		if err := u.Save(ctx, user); err != nil {
			return User{}, err
		}
		return User{}, errutil.Authentication(CodePasswordExpired).
			With("user_id", user.ID).
			With("password_changed_at", user.PasswordChangedAt).
			Errorf(ReasonPasswordExpired)
	}

	user.LastLoginAt = &now
	if err := u.Save(ctx, user); err != nil {
		return User{}, err
	}
	return user.Clone(), nil
}

func (u *Users) recordFailure(ctx context.Context, user *User) error {
	user.FailedAttempts++
	lockedNow := !user.Locked && user.FailedAttempts >= u.cfg.MaxLoginAttempts
	if lockedNow {
		user.Locked = true
	}
	if err := u.Save(ctx, *user); err != nil {
		return err
	}
	if lockedNow {
		u.logger.Warn("account locked",
			"user_id", user.ID,
			"username", user.Username,
			"failed_attempts", user.FailedAttempts)
		u.events.Emit(event.KindAccountLocked, event.AccountLocked{
			UserID:         user.ID,
			Username:       user.Username,
			Reason:         ReasonLockoutThreshold,
			FailedAttempts: user.FailedAttempts,
		})
	}
	return nil
}

func invalidCredentials() error {
	return errutil.Authentication(CodeInvalidCredentials).Errorf(ReasonInvalidCredentials)
}

// Unlock clears the locked flag and failure counter.
func (u *Users) Unlock(ctx context.Context, id string) (User, error) {
	user, err := u.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	user.Locked = false
	user.FailedAttempts = 0
	if err := u.Save(ctx, user); err != nil {
		return User{}, err
	}
	u.logger.Info("account unlocked", "user_id", id)
	return user, nil
}

// SetActive activates or deactivates a user.
func (u *Users) SetActive(ctx context.Context, id string, active bool) (User, error) {
	user, err := u.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	user.Active = active
	if err := u.Save(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// ChangePassword replaces the credential after verifying the current one.
// The new credential must satisfy the policy and differ from the PreventReuse
// most recent credentials, the current one included.
func (u *Users) ChangePassword(ctx context.Context, id, current, next string) error {
	user, err := u.Get(ctx, id)
	if err != nil {
		return err
	}
	ok, err := u.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").With("user_id", id).Wrap(err)
	}
	if !ok {
		return invalidCredentials()
	}
	policy := u.cfg.PasswordPolicy
	if err := ValidatePassword(next, policy); err != nil {
		return err
	}

	if policy.PreventReuse > 0 {
		recent := append([]string{user.PasswordHash}, user.PasswordHistory...)
		recent = recent[:min(len(recent), policy.PreventReuse)]
		for _, h := range recent {
			same, err := u.hasher.Verify(next, h)
			if err == nil && same {
				return errutil.Validation(CodePasswordReused).
					With("user_id", id).
					With("prevent_reuse", policy.PreventReuse).
					Errorf("password was used recently")
			}
		}
	}

	hash, err := u.hasher.Hash(next)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").With("user_id", id).Wrap(err)
	}
	// The new hash becomes current, so PreventReuse-1 previous ones are kept.
	keep := max(policy.PreventReuse-1, 0)
	user.PasswordHistory = append([]string{user.PasswordHash}, user.PasswordHistory...)
	if len(user.PasswordHistory) > keep {
		user.PasswordHistory = user.PasswordHistory[:keep]
	}
	user.PasswordHash = hash
	user.PasswordChangedAt = u.clock()
	if err := u.Save(ctx, user); err != nil {
		return err
	}
	u.logger.Info("password changed", "user_id", id)
	return nil
}

// EnrollMFA generates a new second-factor secret. MFA stays disabled until
// ConfirmMFA succeeds with a code from the secret.
func (u *Users) EnrollMFA(ctx context.Context, id string) (secret, url string, err error) {
	user, err := u.Get(ctx, id)
	if err != nil {
		return "", "", err
	}
	secret, url, err = u.mfa.Generate(user.Username)
	if err != nil {
		return "", "", err
	}
	user.MFASecret = secret
	user.MFAEnabled = false
	if err := u.Save(ctx, user); err != nil {
		return "", "", err
	}
	return secret, url, nil
}

// ConfirmMFA enables MFA once code matches the enrolled secret.
func (u *Users) ConfirmMFA(ctx context.Context, id, code string) error {
	user, err := u.Get(ctx, id)
	if err != nil {
		return err
	}
	if user.MFASecret == "" || !u.mfa.Verify(user.MFASecret, code, u.clock()) {
		return errutil.Authentication(CodeInvalidMFA).With("user_id", id).Errorf(ReasonInvalidMFA)
	}
	user.MFAEnabled = true
	return u.Save(ctx, user)
}

// DisableMFA turns MFA off and forgets the secret.
func (u *Users) DisableMFA(ctx context.Context, id string) error {
	user, err := u.Get(ctx, id)
	if err != nil {
		return err
	}
	user.MFAEnabled = false
	user.MFASecret = ""
	return u.Save(ctx, user)
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
