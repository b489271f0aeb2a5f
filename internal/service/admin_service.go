package service

import (
	"context"
	"errors"
	"strings"

	"dialoque/server/internal/domain"
	"dialoque/server/internal/logger"
	"dialoque/server/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

var ErrSelfModification = errors.New("admins cannot change or delete their own account")

// UpdateUserInput replaces a user's profile. An empty Password keeps the
// current one.
type UpdateUserInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// AdminService manages user accounts.
type AdminService interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
	CreateUser(ctx context.Context, in RegisterInput) (*domain.User, error)
	SetRole(ctx context.Context, actorID, userID string, role domain.Role) error
	SetActive(ctx context.Context, actorID, userID string, active bool) error
	UpdateUser(ctx context.Context, userID string, in UpdateUserInput) (*domain.User, error)
	DeleteUser(ctx context.Context, actorID, userID string) error
}

type adminService struct {
	userRepo repository.UserRepository
	auth     AuthService
	log      *logger.Logger
}

func NewAdminService(userRepo repository.UserRepository, auth AuthService, log *logger.Logger) AdminService {
	return &adminService{userRepo: userRepo, auth: auth, log: log.With("service", "AdminService")}
}

func (s *adminService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}

func (s *adminService) CreateUser(ctx context.Context, in RegisterInput) (*domain.User, error) {
	if !in.Role.Valid() {
		return nil, ErrInvalidInput
	}
	return s.auth.Register(ctx, in)
}

func (s *adminService) SetRole(ctx context.Context, actorID, userID string, role domain.Role) error {
	if !role.Valid() {
		return ErrInvalidInput
	}
	if actorID == userID {
		return ErrSelfModification
	}
	id, err := parseID(userID)
	if err != nil {
		return err
	}
	if err := s.userRepo.SetRole(ctx, id, role); err != nil {
		return mapNotFound(err)
	}
	s.log.Info("User role changed", "userId", userID, "role", role, "by", actorID)
	return nil
}

func (s *adminService) SetActive(ctx context.Context, actorID, userID string, active bool) error {
	if actorID == userID {
		return ErrSelfModification
	}
	id, err := parseID(userID)
	if err != nil {
		return err
	}
	if err := s.userRepo.SetActive(ctx, id, active); err != nil {
		return mapNotFound(err)
	}
	s.log.Info("User status changed", "userId", userID, "active", active, "by", actorID)
	return nil
}

func (s *adminService) UpdateUser(ctx context.Context, userID string, in UpdateUserInput) (*domain.User, error) {
	id, err := parseID(userID)
	if err != nil {
		return nil, err
	}
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email != "" && email != user.Email {
		if other, err := s.userRepo.GetByEmail(ctx, email); err == nil && other.ID != id {
			return nil, ErrUserAlreadyExists
		} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	user.FirstName = strings.TrimSpace(in.FirstName)
	user.LastName = strings.TrimSpace(in.LastName)
	user.Email = email
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, ErrHashingFailed
		}
		user.PasswordHash = string(hash)
	}

	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserAlreadyExists
		}
		return nil, mapNotFound(err)
	}
	s.log.Info("User profile updated", "userId", userID, "passwordChanged", in.Password != "")
	user.PasswordHash = ""
	return user, nil
}

// DeleteUser removes the account. Their submissions stay for the lecturer.
func (s *adminService) DeleteUser(ctx context.Context, actorID, userID string) error {
	if actorID == userID {
		return ErrSelfModification
	}
	id, err := parseID(userID)
	if err != nil {
		return err
	}
	if err := s.userRepo.Delete(ctx, id); err != nil {
		return mapNotFound(err)
	}
	s.log.Info("User deleted", "userId", userID, "by", actorID)
	return nil
}
