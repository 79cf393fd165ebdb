package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	otpmodels "portal-auth/internal/apps/otp/models"
	"portal-auth/internal/apps/user/models"
	"portal-auth/internal/apps/user/repository"
	"portal-auth/internal/common/events"
	"portal-auth/internal/common/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionMismatch means the session is unknown, expired or was issued for another phone
	ErrSessionMismatch = errors.New("session does not belong to phone number")
	// ErrUnauthenticated means the caller sent no live session or has no profile yet
	ErrUnauthenticated = errors.New("a valid session is required")
	// ErrForbidden means the caller's profile may not perform the operation
	ErrForbidden    = errors.New("not allowed for this profile")
	ErrInvalidInput = errors.New("invalid input")
)

// SessionChecker answers whether a session id is live. The OTP gateway implements it.
type SessionChecker interface {
	ValidateSession(ctx context.Context, sessionID string) *otpmodels.SessionValidation
}

// UserService defines the interface for user business logic
type UserService interface {
	// Resolve finds the profile for a verified phone, creating a guest profile on first login.
	Resolve(ctx context.Context, req models.ResolveUserRequest) (*models.UserResponse, error)
	// Authenticate returns the profile behind a live session id.
	Authenticate(ctx context.Context, sessionID string) (*models.UserResponse, error)
	// The operations below act on behalf of caller. Admins reach every profile;
	// everyone else only their own, and only admins change profile_type or list.
	GetUserByID(ctx context.Context, caller *models.UserResponse, id uuid.UUID) (*models.UserResponse, error)
	UpdateUser(ctx context.Context, caller *models.UserResponse, id uuid.UUID, req models.UpdateUserRequest) (*models.UserResponse, error)
	ListUsers(ctx context.Context, caller *models.UserResponse, profileType string, page, pageSize int) (*models.ListUsersResponse, error)
}

// userService implements UserService
type userService struct {
	repo      repository.UserRepository
	sessions  SessionChecker
	metrics   *metrics.Metrics
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

// NewUserService creates a new instance of UserService
func NewUserService(repo repository.UserRepository, sessions SessionChecker, m *metrics.Metrics, publisher events.Publisher, log *zap.Logger) UserService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &userService{
		repo:      repo,
		sessions:  sessions,
		metrics:   m,
		publisher: publisher,
		log:       log.Named("users"),
		now:       time.Now,
	}
}

// Resolve finds or creates the profile for req.PhoneNumber
func (s *userService) Resolve(ctx context.Context, req models.ResolveUserRequest) (*models.UserResponse, error) {
	phone := otpmodels.NormalizePhone(req.PhoneNumber)
	if phone == "" || req.SessionID == "" {
		return nil, fmt.Errorf("%w: phone_number and session_id are required", ErrInvalidInput)
	}
	if !s.sessionOwnedBy(ctx, req.SessionID, phone) {
		s.log.Warn("profile resolution rejected", zap.String("phone", otpmodels.MaskPhone(phone)))
		return nil, ErrSessionMismatch
	}

	user, err := s.repo.FindByPhone(ctx, phone)
	created := false
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = &models.User{
			Phone:       phone,
			ProfileType: models.ProfileGuest,
			Metadata:    models.Metadata{},
		}
		created, err = s.repo.CreateIfAbsent(ctx, user)
		if err == nil && !created {
			// lost a race with a concurrent first login
			user, err = s.repo.FindByPhone(ctx, phone)
		}
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordProfileResolved(string(user.ProfileType), created)
	s.log.Info("profile resolved",
		zap.String("phone", otpmodels.MaskPhone(phone)),
		zap.String("profile_type", string(user.ProfileType)),
		zap.Bool("created", created),
	)
	if err := s.publisher.Publish(ctx, events.Event{
		Type:       events.TypeProfileResolved,
		Phone:      otpmodels.MaskPhone(phone),
		Message:    string(user.ProfileType),
		OccurredAt: s.now().UTC(),
	}); err != nil {
		s.log.Warn("failed to publish auth event", zap.String("type", events.TypeProfileResolved), zap.Error(err))
	}

	resp := user.ToResponse()
	return &resp, nil
}

// sessionOwnedBy reports whether the gateway vouches for sessionID as a live session of phone
func (s *userService) sessionOwnedBy(ctx context.Context, sessionID, phone string) bool {
	if s.sessions == nil {
		return false
	}
	v := s.sessions.ValidateSession(ctx, sessionID)
	return v != nil && v.Valid && v.Phone != nil && otpmodels.NormalizePhone(*v.Phone) == phone
}

// Authenticate maps a session id to the caller's profile
func (s *userService) Authenticate(ctx context.Context, sessionID string) (*models.UserResponse, error) {
	if sessionID == "" || s.sessions == nil {
		return nil, ErrUnauthenticated
	}
	v := s.sessions.ValidateSession(ctx, sessionID)
	if v == nil || !v.Valid || v.Phone == nil {
		return nil, ErrUnauthenticated
	}

	user, err := s.repo.FindByPhone(ctx, otpmodels.NormalizePhone(*v.Phone))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	resp := user.ToResponse()
	return &resp, nil
}

func isAdmin(caller *models.UserResponse) bool {
	return caller != nil && caller.ProfileType == models.ProfileAdmin
}

// authorize lets admins reach any profile and everyone else only their own
func authorize(caller *models.UserResponse, id uuid.UUID) error {
	if caller == nil {
		return ErrUnauthenticated
	}
	if isAdmin(caller) || caller.ID == id {
		return nil
	}
	return ErrForbidden
}

// GetUserByID retrieves a user by ID
func (s *userService) GetUserByID(ctx context.Context, caller *models.UserResponse, id uuid.UUID) (*models.UserResponse, error) {
	if err := authorize(caller, id); err != nil {
		return nil, err
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	resp := user.ToResponse()
	return &resp, nil
}

// UpdateUser updates an existing user
func (s *userService) UpdateUser(ctx context.Context, caller *models.UserResponse, id uuid.UUID, req models.UpdateUserRequest) (*models.UserResponse, error) {
	if err := authorize(caller, id); err != nil {
		return nil, err
	}
	if req.ProfileType != nil && !isAdmin(caller) {
		return nil, ErrForbidden
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	// Apply updates if provided
	if req.Name != nil {
		user.Name = req.Name
	}
	if req.ProfileType != nil {
		if !req.ProfileType.Valid() {
			return nil, fmt.Errorf("%w: unknown profile_type %q", ErrInvalidInput, *req.ProfileType)
		}
		if user.ProfileType != *req.ProfileType {
			s.log.Info("profile type changed",
				zap.String("user_id", user.ID.String()),
				zap.String("by", caller.ID.String()),
				zap.String("from", string(user.ProfileType)),
				zap.String("to", string(*req.ProfileType)),
			)
		}
		user.ProfileType = *req.ProfileType
	}
	// Merge metadata if provided (partial update)
	if len(req.Metadata) > 0 {
		if user.Metadata == nil {
			user.Metadata = make(models.Metadata)
		}
		for key, value := range req.Metadata {
			user.Metadata[key] = value
		}
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	resp := user.ToResponse()
	return &resp, nil
}

// ListUsers returns one page of profiles, newest first
func (s *userService) ListUsers(ctx context.Context, caller *models.UserResponse, profileType string, page, pageSize int) (*models.ListUsersResponse, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	if !isAdmin(caller) {
		return nil, ErrForbidden
	}
	if profileType != "" && !models.ProfileType(profileType).Valid() {
		return nil, fmt.Errorf("%w: unknown profile_type %q", ErrInvalidInput, profileType)
	}

	users, total, err := s.repo.FindAllPaginated(ctx, profileType, page, pageSize)
	if err != nil {
		return nil, err
	}

	out := make([]models.UserResponse, 0, len(users))
	for i := range users {
		out = append(out, users[i].ToResponse())
	}
	return &models.ListUsersResponse{
		Users:    out,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}
