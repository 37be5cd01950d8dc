// Package service holds the business rules: registration, login, admin
// seeding and the admin-gated user operations.
//
//	Handler (HTTP) → Service (rules, authorization) → UserRepository (SQL)
//	                        ↘ PasswordService / TokenService / events.Publisher
//
// Services return *apperror.AppError values and know nothing about HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/user-manager/internal/apperror"
	"github.com/sakif/user-manager/internal/auth"
	"github.com/sakif/user-manager/internal/events"
	"github.com/sakif/user-manager/internal/model"
	"github.com/sakif/user-manager/internal/repository"
)

// AuthService implements register, login and admin seeding.
type AuthService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	tokens    *auth.TokenService
	events    events.Publisher
	logger    *slog.Logger

	noAdminSignup bool
}

func NewAuthService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	tokens *auth.TokenService,
	publisher events.Publisher,
	logger *slog.Logger,
) *AuthService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &AuthService{
		users:     users,
		passwords: passwords,
		tokens:    tokens,
		events:    publisher,
		logger:    logger,
	}
}

// DisableAdminSignup makes Register refuse role "admin". The seeded
// administrator is unaffected.
func (s *AuthService) DisableAdminSignup() {
	s.noAdminSignup = true
}

// LoginResult bundles the issued token with the public user record.
type LoginResult struct {
	Token string
	User  *model.User
}

// Register validates the input, rejects duplicates and stores the new user.
//
// The existence check only produces a precise message; the unique
// constraints decide. A row inserted by a concurrent request between the
// check and the insert still fails here with DuplicateKey from the store.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Role == model.RoleAdmin && s.noAdminSignup {
		return nil, apperror.Forbidden("Registering administrator accounts is disabled")
	}

	existing, err := s.users.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	switch {
	case err == nil:
		return nil, duplicateOf(existing, in.Username, in.Email)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("checking existing user: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     in.FullName,
		Role:         in.Role,
	}
	if err := s.users.Insert(ctx, user); err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("user registered",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
		slog.String("role", string(user.Role)),
	)
	publish(ctx, s.events, s.logger, events.New(events.UserRegistered, user.ID, user.Username, 0))

	user.PasswordHash = ""
	return user, nil
}

// Login checks the credentials and issues a token. An unknown identity and
// a wrong password produce the same InvalidCredentials error.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, in.Identifier)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Debug("login failed", slog.String("reason", "unknown identity"))
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("stored password hash is unusable",
				slog.Int64("userID", user.ID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Debug("login failed", slog.String("reason", "password mismatch"), slog.Int64("userID", user.ID))
		}
		return nil, apperror.InvalidCredentials()
	}

	token, err := s.tokens.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issuing token for user %d: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.Int64("userID", user.ID))

	user.PasswordHash = ""
	return &LoginResult{Token: token, User: user}, nil
}

// AdminAccount is the administrator seeded at startup.
type AdminAccount struct {
	Username string
	Email    string
	Password string
	FullName string
}

// EnsureAdmin returns the administrator, creating it when absent. The
// returned id is the protected admin record.
//
// The existing record is matched on username or email, so an admin row that
// kept only one of the configured values is still found rather than seeded
// again.
func (s *AuthService) EnsureAdmin(ctx context.Context, acct AdminAccount) (*model.User, error) {
	existing, err := s.findAdmin(ctx, acct)
	if err == nil {
		if existing.Role != model.RoleAdmin {
			s.logger.Warn("seeded administrator does not hold the admin role",
				slog.Int64("userID", existing.ID),
				slog.String("role", string(existing.Role)),
			)
		}
		return existing, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("looking up administrator: %w", err)
	}

	in := RegisterInput{
		Username: acct.Username,
		Email:    acct.Email,
		Password: acct.Password,
		FullName: acct.FullName,
		Role:     model.RoleAdmin,
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("administrator account: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing administrator password: %w", err)
	}

	admin := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     in.FullName,
		Role:         model.RoleAdmin,
	}
	if err := s.users.Insert(ctx, admin); err != nil {
		if errors.Is(err, apperror.ErrDuplicateKey) {
			// another instance seeded it first
			return s.findAdmin(ctx, acct)
		}
		return nil, fmt.Errorf("inserting administrator: %w", err)
	}

	s.logger.Info("administrator seeded", slog.Int64("userID", admin.ID), slog.String("username", admin.Username))
	return admin, nil
}

func (s *AuthService) findAdmin(ctx context.Context, acct AdminAccount) (*model.User, error) {
	return s.users.ExistsByUsernameOrEmail(ctx, strings.TrimSpace(acct.Username), normaliseEmail(acct.Email))
}

// publishTimeout bounds how long a request waits on the broker.
var publishTimeout = 2 * time.Second

// publish delivers e best-effort; a broker outage never fails the request.
func publish(ctx context.Context, p events.Publisher, logger *slog.Logger, e events.Event) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.Publish(ctx, e); err != nil {
		logger.Warn("publishing event failed",
			slog.String("kind", string(e.Kind)),
			slog.Int64("userID", e.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// duplicateOf names the field of existing that collides with the request.
// The email is checked first.
func duplicateOf(existing *model.User, username, email string) error {
	switch {
	case strings.EqualFold(existing.Email, email):
		return apperror.DuplicateKey("email", "Email already exists")
	case strings.EqualFold(existing.Username, username):
		return apperror.DuplicateKey("username", "Username already exists")
	default:
		return apperror.DuplicateKey("", "Username or email already exists")
	}
}
