package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/auth"
	"github.com/sakif/journal/internal/model"
)

// fakeUserRepo is an in-memory UserRepository. Setting upsertErr or
// getByIDErr makes the matching method fail.
type fakeUserRepo struct {
	users  map[string]*model.User
	nextID int

	upsertErr  error
	getByIDErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) newID() string {
	f.nextID++
	return fmt.Sprintf("user-fake-%d", f.nextID)
}

func (f *fakeUserRepo) CreateUser(_ context.Context, user *model.User) error {
	for _, u := range f.users {
		if u.Email == user.Email {
			return apperror.Conflict("an account with this email already exists")
		}
	}
	user.ID = f.newID()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	if f.getByIDErr != nil {
		return nil, f.getByIDErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range f.users {
		if u.Email == strings.ToLower(email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) UpsertGitHubUser(_ context.Context, user *model.User) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, u := range f.users {
		if u.GitHubID == user.GitHubID {
			u.Name = user.Name
			u.AvatarURL = user.AvatarURL
			*user = *u
			return nil
		}
	}
	for _, u := range f.users {
		if user.Email != "" && u.Email == user.Email && u.GitHubID == 0 {
			u.GitHubID = user.GitHubID
			u.AvatarURL = user.AvatarURL
			*user = *u
			return nil
		}
	}
	user.ID = f.newID()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func newTestAuthService(t *testing.T, repo *fakeUserRepo) *AuthService {
	t.Helper()

	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return NewAuthService(repo, ts, auth.NewPasswordServiceForTest(4), auth.NewMemoryDenylist(), testLogger())
}

// =========================================================================
// REGISTER / LOGIN
// =========================================================================

func TestRegister_Success(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())

	result, err := svc.Register(context.Background(), " Ada ", "Ada@Example.com", "long-enough")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if result.User.ID == "" || result.Token == "" {
		t.Fatalf("Register() result missing id or token: %+v", result)
	}
	if result.User.Name != "Ada" {
		t.Errorf("Name = %q, want trimmed %q", result.User.Name, "Ada")
	}
	if result.User.Email != "ada@example.com" {
		t.Errorf("Email = %q, want lower-cased", result.User.Email)
	}
	if result.User.PasswordHash == "long-enough" {
		t.Error("password stored in plain text")
	}

	session, err := svc.Authenticate(context.Background(), result.Token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if session.UserID != result.User.ID {
		t.Errorf("session user = %q, want %q", session.UserID, result.User.ID)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())

	tests := []struct {
		name, userName, email, password string
	}{
		{"missing name", "  ", "a@b.co", "long-enough"},
		{"bad email", "A", "not-an-email", "long-enough"},
		{"empty email", "A", "", "long-enough"},
		{"short password", "A", "a@b.co", "short"},
		{"password over 72 bytes", "A", "a@b.co", strings.Repeat("p", 73)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.userName, tt.email, tt.password)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())

	if _, err := svc.Register(context.Background(), "A", "dup@example.com", "long-enough"); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	_, err := svc.Register(context.Background(), "B", "DUP@example.com", "long-enough")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())
	reg, err := svc.Register(context.Background(), "A", "login@example.com", "right-password")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	result, err := svc.Login(context.Background(), "LOGIN@example.com", "right-password")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.User.ID != reg.User.ID {
		t.Errorf("logged in as %q, want %q", result.User.ID, reg.User.ID)
	}
}

func TestLogin_FailuresLookTheSame(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)
	if _, err := svc.Register(context.Background(), "A", "known@example.com", "right-password"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.LoginOrRegisterGitHub(context.Background(),
		&auth.GitHubUser{ID: 5, Login: "gh", Email: "gh@example.com"}); err != nil {
		t.Fatalf("LoginOrRegisterGitHub() error = %v", err)
	}

	_, wrongPassword := svc.Login(context.Background(), "known@example.com", "wrong-password")
	_, unknownEmail := svc.Login(context.Background(), "nobody@example.com", "right-password")
	_, githubOnly := svc.Login(context.Background(), "gh@example.com", "anything")

	for name, err := range map[string]error{
		"wrong password": wrongPassword, "unknown email": unknownEmail, "github only": githubOnly,
	} {
		if !errors.Is(err, apperror.ErrUnauthenticated) {
			t.Errorf("%s: error = %v, want ErrUnauthenticated", name, err)
			continue
		}
		if err.Error() != wrongPassword.Error() {
			t.Errorf("%s: message %q differs from %q", name, err.Error(), wrongPassword.Error())
		}
	}
}

// =========================================================================
// GITHUB
// =========================================================================

func TestLoginOrRegisterGitHub_NewUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	result, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{
		ID:        42,
		Login:     "octocat",
		Email:     "octocat@github.com",
		AvatarURL: "https://avatars.githubusercontent.com/u/42",
	})
	if err != nil {
		t.Fatalf("LoginOrRegisterGitHub() error = %v", err)
	}
	if result.User.GitHubID != 42 {
		t.Errorf("GitHubID = %d, want 42", result.User.GitHubID)
	}
	if result.User.Name != "octocat" {
		t.Errorf("Name = %q, want login as fallback", result.User.Name)
	}
	if len(repo.users) != 1 {
		t.Errorf("stored %d users, want 1", len(repo.users))
	}
}

func TestLoginOrRegisterGitHub_ReturningUserKeepsID(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)
	gh := &auth.GitHubUser{ID: 7, Login: "old"}

	first, err := svc.LoginOrRegisterGitHub(context.Background(), gh)
	if err != nil {
		t.Fatalf("first login error = %v", err)
	}
	gh.Name = "New Name"
	second, err := svc.LoginOrRegisterGitHub(context.Background(), gh)
	if err != nil {
		t.Fatalf("second login error = %v", err)
	}
	if first.User.ID != second.User.ID {
		t.Errorf("user ID changed: %q then %q", first.User.ID, second.User.ID)
	}
	if second.User.Name != "New Name" {
		t.Errorf("Name = %q, want refreshed", second.User.Name)
	}
}

func TestLoginOrRegisterGitHub_Errors(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	if _, err := svc.LoginOrRegisterGitHub(context.Background(), nil); err == nil {
		t.Error("nil GitHub user should fail")
	}

	repo.upsertErr = errors.New("disk full")
	_, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 1})
	if !errors.Is(err, repo.upsertErr) {
		t.Errorf("error = %v, want wrapped upsert error", err)
	}
}

// =========================================================================
// SESSIONS
// =========================================================================

func TestLogout_RevokesOnlyThatToken(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())
	reg, err := svc.Register(context.Background(), "A", "out@example.com", "long-enough")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	other, err := svc.Login(context.Background(), "out@example.com", "long-enough")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	session, err := svc.Authenticate(context.Background(), reg.Token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if err := svc.Logout(context.Background(), session); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if _, err := svc.Authenticate(context.Background(), reg.Token); !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Errorf("revoked token: error = %v, want ErrUnauthenticated", err)
	}
	if _, err := svc.Authenticate(context.Background(), other.Token); err != nil {
		t.Errorf("other session was logged out too: %v", err)
	}
}

func TestAuthenticate_RejectsGarbage(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())

	if _, err := svc.Authenticate(context.Background(), "garbage"); !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
}

func TestGetUserByID(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)
	reg, _ := svc.Register(context.Background(), "A", "me@example.com", "long-enough")

	user, err := svc.GetUserByID(context.Background(), reg.User.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if user.Email != "me@example.com" {
		t.Errorf("Email = %q", user.Email)
	}

	if _, err := svc.GetUserByID(context.Background(), ""); !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Errorf("empty id: error = %v, want ErrUnauthenticated", err)
	}
	if _, err := svc.GetUserByID(context.Background(), "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("missing id: error = %v, want ErrNotFound", err)
	}

	repo.getByIDErr = errors.New("timeout")
	if _, err := svc.GetUserByID(context.Background(), reg.User.ID); !errors.Is(err, repo.getByIDErr) {
		t.Errorf("error = %v, want wrapped repo error", err)
	}
}
