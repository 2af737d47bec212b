package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func newTestAuth(users UserStore) *AuthManager {
	return NewAuthManager(testSecret, time.Hour, testPIN, users, zerolog.Nop())
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := newTestAuth(users)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	stored, err := users.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 user, got %d", len(stored))
	}
	if !strings.HasPrefix(stored[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", stored[0].Password)
	}
	if users.updates != 1 {
		t.Fatalf("expected one password upgrade, got %d", users.updates)
	}
}

func TestEnsureAdminCreatesOnce(t *testing.T) {
	users := &userStoreStub{}
	manager := newTestAuth(users)

	if err := manager.EnsureAdmin(context.Background(), " Admin ", "first-pass-1"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if err := manager.EnsureAdmin(context.Background(), "admin", "second-pass-2"); err != nil {
		t.Fatalf("ensure admin again: %v", err)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "first-pass-1"})
	if err != nil {
		t.Fatalf("expected original password to stay valid: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "second-pass-2"}); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected second bootstrap password to be ignored, got %v", err)
	}

	if err := manager.EnsureAdmin(context.Background(), "admin2", ""); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected empty bootstrap password rejected, got %v", err)
	}
}

func TestCreateOperatorStoresPasswordHash(t *testing.T) {
	users := &userStoreStub{}
	manager := newTestAuth(users)

	operator, err := manager.CreateOperator(context.Background(), domain.OperatorCreateRequest{Username: "Leitor01", Password: "pass1234"})
	if err != nil {
		t.Fatalf("create operator failed: %v", err)
	}
	if operator.Username != "leitor01" || operator.Role != domain.RoleOperator || operator.Password != "" {
		t.Fatalf("unexpected operator %+v", operator)
	}

	saved := users.users["leitor01"]
	if saved.Password == "pass1234" || !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %s", saved.Password)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "leitor01", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login with operator failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "leitor01" || actor.Role != domain.RoleOperator {
		t.Fatalf("unexpected actor %+v", actor)
	}

	listed := manager.ListOperators(context.Background())
	if len(listed) != 1 || listed[0].Username != "leitor01" {
		t.Fatalf("unexpected operator list %+v", listed)
	}
}

func TestCreateOperatorValidation(t *testing.T) {
	manager := newTestAuth(&userStoreStub{})

	cases := []domain.OperatorCreateRequest{
		{Username: "abc", Password: "pass1234"},
		{Username: "with space", Password: "pass1234"},
		{Username: "leitor02", Password: "123"},
	}
	for _, req := range cases {
		if _, err := manager.CreateOperator(context.Background(), req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("%+v: expected invalid input, got %v", req, err)
		}
	}

	if _, err := manager.CreateOperator(context.Background(), domain.OperatorCreateRequest{Username: "leitor02", Password: "pass1234"}); err != nil {
		t.Fatalf("create operator: %v", err)
	}
	if _, err := manager.CreateOperator(context.Background(), domain.OperatorCreateRequest{Username: "LEITOR02", Password: "pass1234"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected duplicate username rejected, got %v", err)
	}
}

func TestParseTokenRejectsExpiredAndForeignTokens(t *testing.T) {
	manager := newTestAuth(&userStoreStub{})
	if err := manager.EnsureAdmin(context.Background(), "admin", "admin-pass-123"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}

	manager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin-pass-123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := manager.ParseToken(resp.AccessToken); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}

	claims := staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "someone-else",
		},
		Role: domain.RoleAdmin,
	}
	foreign, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign foreign token: %v", err)
	}
	if _, err := manager.ParseToken(foreign); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected foreign issuer rejected, got %v", err)
	}

	claims.Issuer = tokenIssuer
	claims.Role = "superuser"
	unknownRole, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := manager.ParseToken(unknownRole); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected unknown role rejected, got %v", err)
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, "708192", &userStoreStub{}, zerolog.Nop())

	if manager.managerPIN == "708192" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}
	if !manager.ValidateManagerPIN("708192") {
		t.Fatalf("expected manager pin validation to succeed")
	}
	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}

func TestEmptyManagerPINDisablesValidation(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, "", &userStoreStub{}, zerolog.Nop())

	if manager.ValidateManagerPIN("") || manager.ValidateManagerPIN("disabled") {
		t.Fatalf("expected every pin rejected when none is configured")
	}
}
