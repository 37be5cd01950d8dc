package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/user-manager/internal/apperror"
	"github.com/sakif/user-manager/internal/auth"
	"github.com/sakif/user-manager/internal/events"
	"github.com/sakif/user-manager/internal/model"
	"github.com/sakif/user-manager/internal/repository"
)

// UserAdminService implements the token-gated user operations.
//
// Every method takes the verified claims of the caller. Access rules:
//
//	ListUsers   admin
//	GetUser     admin, or the user themself
//	UpdateUser  admin, or the user themself; the protected administrator
//	            keeps its username and email
//	DeleteUser  admin, never the protected administrator
type UserAdminService struct {
	users     repository.UserRepository
	protected int64
	events    events.Publisher
	logger    *slog.Logger
}

// NewUserAdminService creates the service. protectedID is the seeded
// administrator's id. DeleteUser always refuses it, and UpdateUser refuses
// to change its username or email, since startup finds it by those.
func NewUserAdminService(
	users repository.UserRepository,
	protectedID int64,
	publisher events.Publisher,
	logger *slog.Logger,
) *UserAdminService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &UserAdminService{
		users:     users,
		protected: protectedID,
		events:    publisher,
		logger:    logger,
	}
}

// ListUsers returns every user in ascending id order, without hashes.
func (s *UserAdminService) ListUsers(ctx context.Context, caller *auth.Claims) ([]model.User, error) {
	if err := auth.RequireRole(caller, model.RoleAdmin); err != nil {
		return nil, err
	}

	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

func (s *UserAdminService) GetUser(ctx context.Context, caller *auth.Claims, id int64) (*model.User, error) {
	if err := auth.RequireSelfOrRole(caller, id, model.RoleAdmin); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting user %d: %w", id, err)
	}

	user.PasswordHash = ""
	return user, nil
}

// UpdateUser applies a partial update. Fields absent from in keep their
// stored values.
func (s *UserAdminService) UpdateUser(ctx context.Context, caller *auth.Claims, id int64, in UpdateUserInput) error {
	if err := auth.RequireSelfOrRole(caller, id, model.RoleAdmin); err != nil {
		return err
	}

	upd, err := in.Validate()
	if err != nil {
		return err
	}
	if id == s.protected && (upd.Username != nil || upd.Email != nil) {
		if err := s.keepAdminIdentity(ctx, upd); err != nil {
			return err
		}
	}

	if _, err := s.users.Update(ctx, id, upd); err != nil {
		return fmt.Errorf("updating user %d: %w", id, err)
	}

	s.logger.Info("user updated",
		slog.Int64("userID", id),
		slog.Int64("actorID", caller.UserID),
		slog.Any("fields", changedFields(upd)),
	)
	publish(ctx, s.events, s.logger, events.New(events.UserUpdated, id, "", caller.UserID))

	return nil
}

// DeleteUser permanently removes a user. The protected administrator is
// refused before the role check, so no caller can delete it.
func (s *UserAdminService) DeleteUser(ctx context.Context, caller *auth.Claims, id int64) error {
	if caller == nil {
		return apperror.Unauthenticated("Access token required")
	}
	if id == s.protected {
		return apperror.Forbidden("Cannot delete the administrator account")
	}
	if err := auth.RequireRole(caller, model.RoleAdmin); err != nil {
		return err
	}

	if _, err := s.users.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("deleting user %d: %w", id, err)
	}

	s.logger.Info("user deleted", slog.Int64("userID", id), slog.Int64("actorID", caller.UserID))
	publish(ctx, s.events, s.logger, events.New(events.UserDeleted, id, "", caller.UserID))

	return nil
}

// keepAdminIdentity allows an update of the protected administrator only
// when a supplied username or email equals the stored one.
func (s *UserAdminService) keepAdminIdentity(ctx context.Context, upd model.UserUpdate) error {
	current, err := s.users.FindByID(ctx, s.protected)
	if err != nil {
		return fmt.Errorf("getting user %d: %w", s.protected, err)
	}
	if upd.Username != nil && !strings.EqualFold(*upd.Username, current.Username) {
		return apperror.Forbidden("Cannot change the administrator's username")
	}
	if upd.Email != nil && !strings.EqualFold(*upd.Email, current.Email) {
		return apperror.Forbidden("Cannot change the administrator's email")
	}
	return nil
}

func changedFields(upd model.UserUpdate) []string {
	var fields []string
	if upd.Username != nil {
		fields = append(fields, "username")
	}
	if upd.Email != nil {
		fields = append(fields, "email")
	}
	if upd.FullName != nil {
		fields = append(fields, "fullName")
	}
	return fields
}
