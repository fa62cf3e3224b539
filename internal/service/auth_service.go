package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/repository"
	"github.com/stemsi/exstem-portal/internal/validator"
)

// AuthGateway is the backend login call.
type AuthGateway interface {
	Login(ctx context.Context, email, password string) (*model.LoginResponse, error)
}

// AuthService handles login, logout and the local credential expiry check.
type AuthService struct {
	gw    AuthGateway
	store *repository.SessionRepository
	log   zerolog.Logger
	now   func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(gw AuthGateway, store *repository.SessionRepository, log zerolog.Logger) *AuthService {
	return &AuthService{
		gw:    gw,
		store: store,
		log:   log.With().Str("component", "auth").Logger(),
		now:   time.Now,
	}
}

// Login validates the input locally, authenticates against the backend
// and stores the credential pair and student profile.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.StudentProfile, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperror.Validation(apperror.ErrMissingCredentials, "")
	}
	if !validator.IsValidEmail(email) {
		return nil, apperror.Validation(apperror.ErrInvalidEmail, "")
	}
	if ok, msg := validator.ValidatePassword(password); !ok {
		return nil, apperror.Validation(apperror.ErrInvalidPassword, msg)
	}

	resp, err := s.gw.Login(ctx, email, password)
	if err != nil {
		s.log.Warn().Err(err).Str("email", email).Msg("Login failed")
		return nil, err
	}

	student := resp.Student
	if student.Email == "" {
		student.Email = email
	}
	cred := model.Credential{Access: resp.Access, Refresh: resp.Refresh}
	if err := s.store.SetAuthData(ctx, cred, student); err != nil {
		return nil, fmt.Errorf("store credentials: %w", err)
	}

	s.log.Info().Str("email", student.Email).Msg("Student logged in")
	return &student, nil
}

// Authenticate returns the stored student when a non-expired credential
// is present. An expired, malformed or undecodable credential is cleared
// and reported as a KindSessionInvalid error.
func (s *AuthService) Authenticate(ctx context.Context) (*model.StudentProfile, error) {
	cred, err := s.store.GetCredential(ctx)
	if err != nil {
		return nil, s.readFailed(ctx, err)
	}
	student, err := s.store.GetStudent(ctx)
	if err != nil {
		return nil, s.readFailed(ctx, err)
	}
	if cred == nil || cred.Access == "" || student == nil {
		return nil, apperror.SessionInvalid(apperror.ErrNotAuthenticated)
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(cred.Access, claims); err != nil {
		s.log.Warn().Err(err).Msg("Stored access token is malformed, clearing credentials")
		s.clear(ctx)
		return nil, apperror.SessionInvalid(apperror.ErrTokenInvalid)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(s.now()) {
		s.log.Info().Time("expired_at", claims.ExpiresAt.Time).Msg("Access token expired, clearing credentials")
		s.clear(ctx)
		return nil, apperror.SessionInvalid(apperror.ErrTokenExpired)
	}
	return student, nil
}

// IsAuthenticated reports whether a valid, non-expired credential is stored.
func (s *AuthService) IsAuthenticated(ctx context.Context) bool {
	_, err := s.Authenticate(ctx)
	return err == nil
}

// CurrentStudent returns the stored profile without checking expiry.
func (s *AuthService) CurrentStudent(ctx context.Context) (*model.StudentProfile, error) {
	return s.store.GetStudent(ctx)
}

// Logout removes the credential pair and the student profile. A running
// exam snapshot is kept so the attempt can be resumed after logging in.
func (s *AuthService) Logout(ctx context.Context) error {
	if err := s.store.ClearAuthData(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	s.log.Info().Msg("Student logged out")
	return nil
}

// readFailed clears an undecodable auth record. Other store errors are
// returned unchanged.
func (s *AuthService) readFailed(ctx context.Context, err error) error {
	if !errors.Is(err, repository.ErrCorruptRecord) {
		return err
	}
	s.log.Warn().Err(err).Msg("Stored credentials are unreadable, clearing them")
	s.clear(ctx)
	return apperror.SessionInvalid(apperror.ErrTokenInvalid)
}

func (s *AuthService) clear(ctx context.Context) {
	if err := s.store.ClearAuthData(ctx); err != nil {
		s.log.Error().Err(err).Msg("Failed to clear credentials")
	}
}
