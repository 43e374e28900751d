package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/taskwheel/jobrouter/internal/models"
	"github.com/taskwheel/jobrouter/internal/repo"
	"github.com/taskwheel/jobrouter/pkg/hash"
	"github.com/taskwheel/jobrouter/pkg/logging"
	"github.com/taskwheel/jobrouter/pkg/tokens"
)

var (
	ErrValidation         = errors.New("username and password are required")
	ErrUserAlreadyExists  = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUnauthorized covers every refresh failure. The reason is logged
	// server-side but never differentiated to the caller.
	ErrUnauthorized = errors.New("unauthorized")
)

// EventSink receives auth lifecycle events. A nil sink disables publishing.
type EventSink interface {
	Publish(ctx context.Context, eventType, username string) error
}

// MultiSink fans one event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, eventType, username string) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, eventType, username); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
	Role         string
}

type AuthService struct {
	Repo   *repo.GormRepo
	Issuer *tokens.Issuer
	Events EventSink
	Now    func() time.Time
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *AuthService) publish(ctx context.Context, eventType, username string) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, eventType, username); err != nil {
		logging.FromContext(ctx).Warn("event publish failed", "type", eventType, "error", err)
	}
}

func (s *AuthService) Register(ctx context.Context, username, password string) error {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	if username == "" || password == "" {
		return ErrValidation
	}

	pwHash, err := hash.Password(password)
	if err != nil {
		l.Error("register failed", "reason", "cannot hash password", "error", err)
		return fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Username:     username,
		PasswordHash: pwHash,
		Role:         models.RoleRequester,
	}
	if err := s.Repo.Create(ctx, &user); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExists) {
			l.Warn("register conflict", "username", username)
			return ErrUserAlreadyExists
		}
		l.Error("register failed", "error", err)
		return fmt.Errorf("create user: %w", err)
	}

	s.publish(ctx, "user_registered", username)
	l.Info("user registered", "username", username)
	return nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login", "username", username)

	if username == "" || password == "" {
		return nil, ErrValidation
	}

	user, err := s.Repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("login failed", "reason", "unknown username")
			return nil, ErrInvalidCredentials
		}
		l.Error("login failed", "error", err)
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !hash.Verify(password, user.PasswordHash) {
		l.Warn("login failed", "reason", "password mismatch")
		return nil, ErrInvalidCredentials
	}

	pair, refreshHash, err := s.mintPair(user)
	if err != nil {
		l.Error("login failed", "error", err)
		return nil, err
	}

	if err := s.Repo.UpdateRefreshHash(ctx, user.ID, &refreshHash); err != nil {
		l.Error("login failed", "reason", "cannot store refresh hash", "error", err)
		return nil, fmt.Errorf("store refresh hash: %w", err)
	}

	s.publish(ctx, "user_login", username)
	l.Info("login successful")
	return pair, nil
}

// Refresh validates the presented refresh token and rotates it. Every
// failure path collapses to ErrUnauthorized so callers cannot probe which
// check rejected them.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := tokens.RefreshClaimsFromToken(refreshToken, s.Issuer.RefreshSecret)
	if err != nil {
		l.Warn("refresh rejected", "reason", "bad signature or expired")
		return nil, ErrUnauthorized
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		l.Warn("refresh rejected", "reason", "malformed subject")
		return nil, ErrUnauthorized
	}

	user, err := s.Repo.FindByID(ctx, uint(userID))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("refresh rejected", "reason", "unknown subject")
			return nil, ErrUnauthorized
		}
		l.Error("refresh failed", "error", err)
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user.RefreshTokenHash == nil {
		l.Warn("refresh rejected", "reason", "no active session")
		return nil, ErrUnauthorized
	}

	// Hash comparison, not string equality: the stored value is itself a
	// bcrypt hash, and a rotated-away token must stay rejected forever.
	if !hash.VerifyRefreshToken(refreshToken, *user.RefreshTokenHash) {
		l.Warn("refresh rejected", "reason", "superseded or foreign token")
		return nil, ErrUnauthorized
	}

	pair, newHash, err := s.mintPair(user)
	if err != nil {
		l.Error("refresh failed", "error", err)
		return nil, err
	}

	// Conditional swap on the previous hash: a concurrent refresh that wrote
	// first wins, this one reports the usual unauthorized outcome.
	if err := s.Repo.RotateRefreshHash(ctx, user.ID, *user.RefreshTokenHash, newHash); err != nil {
		if errors.Is(err, repo.ErrStaleRefreshHash) {
			l.Warn("refresh rejected", "reason", "lost rotation race")
			return nil, ErrUnauthorized
		}
		l.Error("refresh failed", "reason", "cannot rotate refresh hash", "error", err)
		return nil, fmt.Errorf("rotate refresh hash: %w", err)
	}

	s.publish(ctx, "token_refreshed", user.Username)
	l.Info("refresh successful", "username", user.Username)
	return pair, nil
}

// Logout revokes the outstanding refresh token by clearing the stored hash.
func (s *AuthService) Logout(ctx context.Context, userID uint) error {
	l := logging.FromContext(ctx).With("svc", "auth.logout")

	user, err := s.Repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("find user: %w", err)
	}

	if err := s.Repo.UpdateRefreshHash(ctx, userID, nil); err != nil {
		l.Error("logout failed", "error", err)
		return fmt.Errorf("clear refresh hash: %w", err)
	}

	s.publish(ctx, "user_logout", user.Username)
	l.Info("logout successful", "username", user.Username)
	return nil
}

func (s *AuthService) mintPair(user *models.User) (*TokenPair, string, error) {
	now := s.now()
	subject := strconv.FormatUint(uint64(user.ID), 10)

	access, accessExp, err := s.Issuer.IssueAccessToken(subject, user.Username, user.Role, now)
	if err != nil {
		return nil, "", fmt.Errorf("issue access token: %w", err)
	}

	refresh, refreshExp, err := s.Issuer.IssueRefreshToken(subject, user.Username, user.Role, now)
	if err != nil {
		return nil, "", fmt.Errorf("issue refresh token: %w", err)
	}

	refreshHash, err := hash.RefreshToken(refresh)
	if err != nil {
		return nil, "", fmt.Errorf("hash refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
		Role:         user.Role,
	}, refreshHash, nil
}
