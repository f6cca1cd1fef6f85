// Package account registers users, authenticates them and manages their
// credentials.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rbaliyan/dmbox"
	"github.com/rbaliyan/dmbox/auth"
	"github.com/rbaliyan/dmbox/store"
)

// Invalidator drops cached user records. resolver.Cached implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...string) error
}

// Session is the result of a successful register or login.
type Session struct {
	Token string         `json:"token"`
	User  dmbox.UserView `json:"user"`
}

// Service manages accounts.
type Service struct {
	users  store.UserStore
	tokens *auth.Tokens
	opts   *options
}

// New creates an account service.
func New(users store.UserStore, tokens *auth.Tokens, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, dmbox.ErrStoreRequired
	}
	if tokens == nil {
		return nil, errors.New("account: tokens are required")
	}
	return &Service{users: users, tokens: tokens, opts: newOptions(opts...)}, nil
}

// Register creates a user and returns a session for them.
func (s *Service) Register(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.opts.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	u, err := s.users.CreateUser(ctx, username, hash)
	if err != nil {
		if store.IsDuplicateEntry(err) {
			return nil, dmbox.ErrConflict
		}
		return nil, fmt.Errorf("account: create user: %w", err)
	}

	s.opts.logger.Info("user registered", "user_id", u.ID)
	return s.session(u)
}

// Login checks credentials. An unknown username and a wrong password
// both give dmbox.ErrUnauthorized.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.users.FindUserByUsername(ctx, username)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, dmbox.ErrUnauthorized
		}
		return nil, fmt.Errorf("account: find user: %w", err)
	}
	if err := s.opts.hasher.Compare(u.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrMismatch) {
			s.opts.logger.Error("password compare failed", "user_id", u.ID, "error", err)
		}
		return nil, dmbox.ErrUnauthorized
	}

	s.opts.logger.Info("user logged in", "user_id", u.ID)
	return s.session(u)
}

// Delete removes the user with their sent messages and deliveries.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		if store.IsNotFound(err) {
			return dmbox.ErrNotFound
		}
		return fmt.Errorf("account: delete user: %w", err)
	}
	s.invalidate(ctx, userID)
	s.opts.logger.Info("user deleted", "user_id", userID)
	return nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) (*dmbox.UserView, error) {
	if err := ValidatePassword(next); err != nil {
		return nil, err
	}

	u, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, dmbox.ErrNotFound
		}
		return nil, fmt.Errorf("account: find user: %w", err)
	}
	if err := s.opts.hasher.Compare(u.PasswordHash, current); err != nil {
		return nil, dmbox.ErrUnauthorized
	}

	hash, err := s.opts.hasher.Hash(next)
	if err != nil {
		return nil, err
	}
	u, err = s.users.UpdatePassword(ctx, userID, hash, s.opts.now())
	if err != nil {
		if store.IsNotFound(err) {
			return nil, dmbox.ErrNotFound
		}
		return nil, fmt.Errorf("account: update password: %w", err)
	}
	s.invalidate(ctx, userID)

	view := dmbox.NewUserView(*u)
	return &view, nil
}

func (s *Service) session(u *store.User) (*Session, error) {
	token, err := s.tokens.Issue(u.ID, u.Username)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: dmbox.NewUserView(*u)}, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.opts.invalidator == nil {
		return
	}
	if err := s.opts.invalidator.Invalidate(ctx, userID); err != nil {
		s.opts.logger.Warn("user cache invalidation failed", "user_id", userID, "error", err)
	}
}

// ValidateUsername checks a trimmed username.
func ValidateUsername(username string) error {
	if username == "" {
		return dmbox.NewValidationError("username", dmbox.ErrInvalidUsername, "username is required")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return dmbox.NewValidationError("username", dmbox.ErrInvalidUsername,
			"username exceeds %d characters", MaxUsernameLength)
	}
	return nil
}

// ValidatePassword checks password length. bcrypt caps input at 72 bytes.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return dmbox.NewValidationError("password", dmbox.ErrInvalidPassword,
			"password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > auth.MaxPasswordBytes {
		return dmbox.NewValidationError("password", dmbox.ErrInvalidPassword,
			"password exceeds %d bytes", auth.MaxPasswordBytes)
	}
	return nil
}
