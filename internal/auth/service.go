// Package auth implements signup, login and token verification for chat
// users. Tokens are HS256 JWTs carrying the user id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/chatly/chat-app/internal/media"
	"github.com/chatly/chat-app/internal/users"
)

const (
	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 6
	bcryptCost        = 10
)

var (
	// ErrInvalidCredentials is returned for an unknown username or wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken is returned when a token is missing, expired or forged.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrValidation wraps every signup or profile input rule violation.
	ErrValidation = errors.New("auth: validation failed")
)

// SignupInput carries the fields of a signup request. ProfilePic is an
// optional image data URI.
type SignupInput struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	ProfilePic string `json:"profile_pic"`
}

// Service authenticates users.
type Service struct {
	users    users.Repository
	uploader media.Uploader
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewService creates a Service signing tokens with secret.
func NewService(repo users.Repository, secret []byte, ttl time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:    repo,
		uploader: media.Disabled{},
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
		log:      logger,
	}
}

// SetUploader sets the image store used for profile pictures.
func (s *Service) SetUploader(u media.Uploader) {
	s.uploader = u
}

// TokenTTL returns the lifetime of issued tokens.
func (s *Service) TokenTTL() time.Duration {
	return s.ttl
}

// Signup registers a new user and returns it with a fresh token.
func (s *Service) Signup(ctx context.Context, in SignupInput) (users.User, string, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	switch {
	case in.Username == "" || in.Email == "" || in.Password == "":
		return users.User{}, "", fmt.Errorf("%w: all fields are required", ErrValidation)
	case len(in.Password) < MinPasswordLength:
		return users.User{}, "", fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	case !users.ValidUsername(in.Username):
		return users.User{}, "", fmt.Errorf("%w: username must contain only letters and digits", ErrValidation)
	case !strings.Contains(in.Email, "@"):
		return users.User{}, "", fmt.Errorf("%w: invalid email", ErrValidation)
	}

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return users.User{}, "", users.ErrEmailTaken
	} else if !errors.Is(err, users.ErrNotFound) {
		return users.User{}, "", err
	}
	if _, err := s.users.GetByUsername(ctx, in.Username); err == nil {
		return users.User{}, "", users.ErrUsernameTaken
	} else if !errors.Is(err, users.ErrNotFound) {
		return users.User{}, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return users.User{}, "", fmt.Errorf("auth: hash password: %w", err)
	}

	var pic string
	if in.ProfilePic != "" {
		if pic, err = s.uploader.Upload(ctx, in.ProfilePic); err != nil {
			return users.User{}, "", err
		}
	}

	now := s.now().UTC()
	u, err := s.users.Create(ctx, users.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		ProfilePic:   pic,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return users.User{}, "", err
	}

	token, err := GenerateToken(u.ID, s.secret, now, s.ttl)
	if err != nil {
		return users.User{}, "", err
	}
	s.log.Info("[auth] user signed up", zap.String("user_id", u.ID), zap.String("username", u.Username))
	return u, token, nil
}

// Login checks the password of username and returns the user with a token.
func (s *Service) Login(ctx context.Context, username, password string) (users.User, string, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, users.ErrNotFound) {
		return users.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return users.User{}, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return users.User{}, "", ErrInvalidCredentials
	}

	token, err := GenerateToken(u.ID, s.secret, s.now(), s.ttl)
	if err != nil {
		return users.User{}, "", err
	}
	return u, token, nil
}

// Verify returns the user id carried by a valid token.
func (s *Service) Verify(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, errNoToken)
	}
	return ParseToken(token, s.secret)
}

// UserFromRequest authenticates r and returns the caller's user id. A token
// whose user no longer exists is rejected.
func (s *Service) UserFromRequest(r *http.Request) (string, error) {
	userID, err := s.Verify(TokenFromRequest(r))
	if err != nil {
		return "", err
	}
	if _, err := s.users.GetByID(r.Context(), userID); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return "", fmt.Errorf("%w: unknown user", ErrInvalidToken)
		}
		return "", err
	}
	return userID, nil
}

// Check returns the user behind an authenticated id.
func (s *Service) Check(ctx context.Context, userID string) (users.User, error) {
	return s.users.GetByID(ctx, userID)
}

// UpdateProfile uploads profilePic and stores its URL on the user.
func (s *Service) UpdateProfile(ctx context.Context, userID, profilePic string) (users.User, error) {
	if profilePic == "" {
		return users.User{}, fmt.Errorf("%w: profile pic is required", ErrValidation)
	}
	url, err := s.uploader.Upload(ctx, profilePic)
	if err != nil {
		return users.User{}, err
	}
	return s.users.UpdateProfilePic(ctx, userID, url, s.now().UTC())
}
