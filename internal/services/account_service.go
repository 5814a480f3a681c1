package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/storefront-be/internal/auth"
	"github.com/isdelr/storefront-be/internal/clock"
	"github.com/isdelr/storefront-be/internal/common"
	"github.com/isdelr/storefront-be/internal/models"
	"github.com/isdelr/storefront-be/internal/payment"
	"github.com/isdelr/storefront-be/internal/repository"
	"github.com/rs/zerolog/log"
)

const (
	guestTokenLength    = 10
	guestPasswordLength = 32
	guestCreateAttempts = 3
	tokenAlphabet       = "abcdefghijklmnopqrstuvwxyz0123456789"

	// NotifyPasswordChanged is pushed to a user's open sockets after a
	// password change so other clients can drop their token.
	NotifyPasswordChanged = "session.password_changed"
)

// AccountServiceProvider defines the interface for account services.
type AccountServiceProvider interface {
	Register(ctx context.Context, firstName, lastName, email, password string) (models.UserData, error)
	Login(ctx context.Context, email, password string) (models.Session, error)
	GuestLogin(ctx context.Context) (models.Session, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
}

// TokenSigner issues session tokens.
type TokenSigner interface {
	Issue(userID, email string) (string, error)
}

// Notifier pushes a message to every live connection of a user.
type Notifier interface {
	NotifyUser(userID, action string, payload interface{})
}

// AccountOptions holds the account policy knobs.
type AccountOptions struct {
	GuestEmailDomain string
	StoreTimeout     time.Duration
	PaymentTimeout   time.Duration
}

// AccountService provides registration, login and password management.
type AccountService struct {
	users     repository.UserRepository
	hasher    auth.PasswordHasher
	tokens    TokenSigner
	payments  payment.CustomerCreator
	events    EventServiceProvider
	notifier  Notifier
	clock     clock.Clock
	opts      AccountOptions
	dummyHash string
}

// NewAccountService creates a new AccountService. events and notifier may be nil.
func NewAccountService(
	users repository.UserRepository,
	hasher auth.PasswordHasher,
	tokens TokenSigner,
	payments payment.CustomerCreator,
	events EventServiceProvider,
	notifier Notifier,
	clk clock.Clock,
	opts AccountOptions,
) (*AccountService, error) {
	// verified against when no account matches, so a miss costs as much as a hit
	dummyPassword, err := randomToken(guestPasswordLength)
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}
	if opts.GuestEmailDomain == "" {
		opts.GuestEmailDomain = "guest.local"
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = 10 * time.Second
	}

	return &AccountService{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		payments:  payments,
		events:    events,
		notifier:  notifier,
		clock:     clk,
		opts:      opts,
		dummyHash: dummyHash,
	}, nil
}

// Register creates a named account. No token is issued; the caller logs in
// separately.
func (s *AccountService) Register(ctx context.Context, firstName, lastName, email, password string) (models.UserData, error) {
	email = repository.NormalizeEmail(email)

	// cheap early exit so an existing email does not create a stray customer;
	// the unique index still decides the race below
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return models.UserData{}, err
	}

	customerRef, err := s.createCustomer(ctx, strings.TrimSpace(firstName+" "+lastName), email)
	if err != nil {
		return models.UserData{}, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		log.Error().Err(err).Msg("Failed to hash password on register")
		return models.UserData{}, common.ErrPersistence
	}

	user := models.User{
		ID:                 uuid.New().String(),
		FirstName:          firstName,
		LastName:           lastName,
		Email:              email,
		PasswordHash:       hash,
		CreatedAt:          s.clock.Now(),
		PaymentCustomerRef: customerRef,
	}
	if err := s.insert(ctx, user); err != nil {
		return models.UserData{}, err
	}

	s.recordEvent(ctx, EventAccountRegister, "info", "Account created.", user.ID)
	log.Info().Str("user_id", user.ID).Msg("User registered")
	return user.Data(), nil
}

// Login verifies credentials and issues a session token. An unknown email
// and a wrong password fail identically.
func (s *AccountService) Login(ctx context.Context, email, password string) (models.Session, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	user, err := s.users.GetActiveByEmail(lookupCtx, email)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrNotFound):
		s.burnVerify(password)
		return models.Session{}, common.ErrInvalidCredentials
	case errors.Is(err, common.ErrMultipleRows):
		log.Error().Str("email", repository.NormalizeEmail(email)).Msg("More than one active user shares an email")
		s.burnVerify(password)
		return models.Session{}, common.ErrInvalidCredentials
	default:
		return models.Session{}, s.storeError(lookupCtx, "login: lookup email", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("Stored password hash is unreadable")
		return models.Session{}, common.ErrInvalidCredentials
	}
	if !ok {
		return models.Session{}, common.ErrInvalidCredentials
	}

	session, err := s.newSession(user)
	if err != nil {
		return models.Session{}, err
	}
	s.recordEvent(ctx, EventAccountLogin, "info", "Logged in.", user.ID)
	return session, nil
}

// GuestLogin creates a throw-away guest account and logs it in. The random
// password is never returned, so the session token is the only way in.
func (s *AccountService) GuestLogin(ctx context.Context) (models.Session, error) {
	password, err := randomToken(guestPasswordLength)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate guest password")
		return models.Session{}, common.ErrPersistence
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		log.Error().Err(err).Msg("Failed to hash guest password")
		return models.Session{}, common.ErrPersistence
	}

	// one payment customer per guest; a lost insert race reuses it under the
	// next candidate email
	var customerRef string
	for attempt := 1; attempt <= guestCreateAttempts; attempt++ {
		tok, err := randomToken(guestTokenLength)
		if err != nil {
			log.Error().Err(err).Msg("Failed to generate guest name")
			return models.Session{}, common.ErrPersistence
		}
		username := "guest_" + tok
		email := username + "@" + s.opts.GuestEmailDomain

		err = s.ensureEmailFree(ctx, email)
		if errors.Is(err, common.ErrDuplicateEmail) {
			log.Warn().Str("email", email).Int("attempt", attempt).Msg("Guest email taken, retrying")
			continue
		}
		if err != nil {
			return models.Session{}, err
		}

		if customerRef == "" {
			customerRef, err = s.createCustomer(ctx, username, email)
			if err != nil {
				return models.Session{}, err
			}
		}

		user := models.User{
			ID:                 uuid.New().String(),
			FirstName:          username,
			LastName:           username,
			Email:              email,
			PasswordHash:       hash,
			IsGuest:            true,
			CreatedAt:          s.clock.Now(),
			PaymentCustomerRef: customerRef,
		}
		err = s.insert(ctx, user)
		if errors.Is(err, common.ErrDuplicateEmail) {
			log.Warn().Str("email", email).Int("attempt", attempt).Msg("Guest email collision, retrying")
			continue
		}
		if err != nil {
			return models.Session{}, err
		}

		session, err := s.newSession(user)
		if err != nil {
			return models.Session{}, err
		}
		s.recordEvent(ctx, EventGuestCreate, "info", "Guest account created.", user.ID)
		log.Info().Str("user_id", user.ID).Msg("Guest user created")
		return session, nil
	}

	log.Error().Int("attempts", guestCreateAttempts).Str("customer_ref", customerRef).Msg("Could not allocate a unique guest email")
	return models.Session{}, common.ErrPersistence
}

// ChangePassword verifies the current password of an authenticated user,
// then stores a hash of the new one.
func (s *AccountService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.activeByID(ctx, userID)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrMultipleRows):
		log.Warn().Err(err).Str("user_id", userID).Msg("Password change for unknown user")
		s.burnVerify(oldPassword)
		return common.ErrIncorrectOldPassword
	default:
		return err
	}

	ok, err := s.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Stored password hash is unreadable")
		return common.ErrIncorrectOldPassword
	}
	if !ok {
		return common.ErrIncorrectOldPassword
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to hash new password")
		return common.ErrPersistence
	}

	updateCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	n, err := s.users.UpdatePassword(updateCtx, userID, hash)
	if err != nil {
		return s.storeError(updateCtx, "change password: update", err)
	}
	if n == 0 {
		// the row was flagged or purged between the lookup and the update
		log.Warn().Str("user_id", userID).Msg("Password update affected no rows")
		return common.ErrPersistence
	}

	s.recordEvent(ctx, EventAccountPasswordChange, "info", "Password changed.", userID)
	if s.notifier != nil {
		s.notifier.NotifyUser(userID, NotifyPasswordChanged, nil)
	}
	return nil
}

// GetProfile returns the non-sensitive view of an active user.
func (s *AccountService) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	user, err := s.users.GetActiveByID(lookupCtx, userID)
	switch {
	case err == nil:
		return user.Profile(), nil
	case errors.Is(err, common.ErrNotFound):
		log.Warn().Str("user_id", userID).Msg("Profile requested for missing user")
		return models.Profile{}, common.ErrNotFound
	case errors.Is(err, common.ErrMultipleRows):
		log.Error().Str("user_id", userID).Msg("Invariant violation: more than one active user with id")
		return models.Profile{}, common.ErrNotFound
	default:
		return models.Profile{}, s.storeError(lookupCtx, "get profile", err)
	}
}

// ensureEmailFree reports common.ErrDuplicateEmail when an active account
// already holds email.
func (s *AccountService) ensureEmailFree(ctx context.Context, email string) error {
	lookupCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	_, err := s.users.GetActiveByEmail(lookupCtx, email)
	switch {
	case err == nil, errors.Is(err, common.ErrMultipleRows):
		return common.ErrDuplicateEmail
	case errors.Is(err, common.ErrNotFound):
		return nil
	default:
		return s.storeError(lookupCtx, "lookup email", err)
	}
}

// activeByID passes not-found and multiple-rows through and maps any other
// storage failure.
func (s *AccountService) activeByID(ctx context.Context, userID string) (models.User, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	user, err := s.users.GetActiveByID(lookupCtx, userID)
	if err != nil && !errors.Is(err, common.ErrNotFound) && !errors.Is(err, common.ErrMultipleRows) {
		return models.User{}, s.storeError(lookupCtx, "lookup user", err)
	}
	return user, err
}

func (s *AccountService) createCustomer(ctx context.Context, name, email string) (string, error) {
	payCtx, cancel := context.WithTimeout(ctx, s.opts.PaymentTimeout)
	defer cancel()

	ref, err := s.payments.CreateCustomer(payCtx, name, email)
	if err != nil {
		log.Error().Err(err).Str("email", email).Msg("Failed to create payment customer")
		if errors.Is(err, common.ErrTimeout) || errors.Is(payCtx.Err(), context.DeadlineExceeded) {
			return "", common.ErrTimeout
		}
		return "", common.ErrPaymentProvider
	}
	if ref == "" {
		log.Error().Str("email", email).Msg("Payment provider returned an empty customer id")
		return "", common.ErrPaymentProvider
	}
	return ref, nil
}

func (s *AccountService) insert(ctx context.Context, user models.User) error {
	insertCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	err := s.users.Create(insertCtx, user)
	if errors.Is(err, common.ErrDuplicateEmail) {
		return common.ErrDuplicateEmail
	}
	if err != nil {
		return s.storeError(insertCtx, "insert user", err)
	}
	return nil
}

func (s *AccountService) newSession(user models.User) (models.Session, error) {
	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to sign session token")
		return models.Session{}, common.ErrPersistence
	}
	return models.Session{Token: token, UserData: user.Data()}, nil
}

// burnVerify spends the same hashing work as a real verification.
func (s *AccountService) burnVerify(password string) {
	_, _ = s.hasher.Verify(password, s.dummyHash)
}

// storeError logs a raw storage failure and maps it onto the service taxonomy.
// A caller that gave up is reported as a timeout as well.
func (s *AccountService) storeError(ctx context.Context, op string, err error) error {
	log.Error().Err(err).Str("op", op).Msg("Storage call failed")
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return common.ErrTimeout
	}
	return common.ErrPersistence
}

func (s *AccountService) recordEvent(ctx context.Context, eventType, level, message, userID string) {
	if s.events == nil {
		return
	}
	// recorded even if the request was abandoned after the change committed
	eventCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
	defer cancel()
	if err := s.events.CreateEvent(eventCtx, eventType, level, message, &userID); err != nil {
		log.Warn().Err(err).Str("type", eventType).Str("user_id", userID).Msg("Failed to record event")
	}
}

// randomToken returns n characters drawn uniformly from tokenAlphabet.
func randomToken(n int) (string, error) {
	limit := big.NewInt(int64(len(tokenAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		b.WriteByte(tokenAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
