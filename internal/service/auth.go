package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/auth"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

const MaxNameLength = 100

// errBadCredentials is shared by the unknown-email and wrong-password paths
// so a login response never reveals which accounts exist.
var errBadCredentials = apperror.Unauthenticated("invalid email or password")

// AuthService resolves identities: it registers and logs users in, issues
// session tokens and checks them on every request.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	denylist  auth.Denylist
	logger    *slog.Logger
}

var _ auth.Authenticator = (*AuthService)(nil)

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	denylist auth.Denylist,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		denylist:  denylist,
		logger:    logger,
	}
}

// AuthResult is returned by every successful login path.
type AuthResult struct {
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Register creates a password account and logs it in.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}
	if len([]rune(name)) > MaxNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, apperror.ValidationFailed("email", "a valid email is required")
	}
	if len(password) < auth.MinPasswordLength {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}

	user := &model.User{Name: name, Email: email, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		s.logger.Error("failed to create user", slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID))
	return s.issue(user)
}

// Login checks an email and password. Unknown emails, GitHub-only accounts
// and wrong passwords all fail with the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("email", "email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}
	if user.PasswordHash == "" {
		return nil, errBadCredentials
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			return nil, errBadCredentials
		}
		s.logger.Error("stored password hash is unusable",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.issue(user)
}

// LoginOrRegisterGitHub links or creates the account for a GitHub profile
// and logs it in.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	user := &model.User{
		GitHubID:  ghUser.ID,
		Name:      ghUser.DisplayName(),
		Email:     ghUser.Email,
		AvatarURL: ghUser.AvatarURL,
	}
	if err := s.users.UpsertGitHubUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", ghUser.Login),
	)
	return s.issue(user)
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{
		User:      user,
		Token:     token,
		ExpiresAt: time.Now().Add(s.tokens.TTL()),
	}, nil
}

// Authenticate validates a raw token and checks it has not been logged out.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*auth.Session, error) {
	session, err := s.tokens.Validate(token)
	if err != nil {
		return nil, apperror.Unauthenticated("invalid or expired session")
	}

	revoked, err := s.denylist.IsRevoked(ctx, session.TokenID)
	if err != nil {
		s.logger.Error("checking token revocation", slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/auth: checking revocation: %w", err)
	}
	if revoked {
		return nil, apperror.Unauthenticated("session has been logged out")
	}
	return session, nil
}

// Logout revokes the session's token until it would have expired anyway.
func (s *AuthService) Logout(ctx context.Context, session *auth.Session) error {
	if session == nil || session.TokenID == "" {
		return apperror.Unauthenticated("authentication required")
	}
	if err := s.denylist.Revoke(ctx, session.TokenID, session.ExpiresAt); err != nil {
		return fmt.Errorf("service/auth: revoking token: %w", err)
	}
	s.logger.Info("user logged out", slog.String("userID", session.UserID))
	return nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthenticated("authentication required")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}
