package httpapi

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

const tokenIssuer = "stockscan"

var (
	errInvalidCredentials = fmt.Errorf("invalid credentials: %w", store.ErrUnauthorized)
	errInactiveAccount    = fmt.Errorf("account is inactive: %w", store.ErrUnauthorized)
	errInvalidToken       = fmt.Errorf("invalid or expired token: %w", store.ErrUnauthorized)
)

type AuthManager struct {
	mu         sync.RWMutex
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	userStore  UserStore
	users      map[string]credential
	log        zerolog.Logger
	now        func() time.Time
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	password string
	role     string
	active   bool
	created  time.Time
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// NewAuthManager hashes managerPIN with bcrypt. An empty PIN disables every
// PIN-guarded endpoint.
func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, userStore UserStore, logger zerolog.Logger) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	hashedPIN := ""
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hashed, err := hashPassword(pin); err == nil {
			hashedPIN = hashed
		}
	}

	return &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: hashedPIN,
		userStore:  userStore,
		users:      make(map[string]credential),
		log:        logger.With().Str("component", "auth").Logger(),
		now:        time.Now,
	}
}

// EnsureAdmin creates the bootstrap admin account unless a user with that name
// already exists. An existing account keeps its stored password.
func (a *AuthManager) EnsureAdmin(ctx context.Context, username string, password string) error {
	a.bootstrapUsers(ctx)
	username = normalizeUsername(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return fmt.Errorf("admin username and password are required: %w", store.ErrInvalidInput)
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return nil
	}

	if _, err := a.createUser(ctx, username, password, domain.RoleAdmin); err != nil {
		return err
	}
	a.log.Info().Str("username", username).Msg("bootstrap admin created")
	return nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)
	username := normalizeUsername(req.Username)
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !matchesHash(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &staffClaims{}
	_, err := jwtlib.ParseWithClaims(tokenStr, claims, a.signingKey,
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return domain.Actor{}, errInvalidToken
	}
	switch {
	case claims.Subject == "":
		return domain.Actor{}, errInvalidToken
	case claims.Role != domain.RoleAdmin && claims.Role != domain.RoleOperator:
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (a *AuthManager) signingKey(*jwtlib.Token) (any, error) {
	return a.secret, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: role,
	}).SignedString(a.secret)
}

// ValidateManagerPIN reports whether pin matches the configured manager PIN.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	return matchesHash(a.managerPIN, strings.TrimSpace(pin))
}

func (a *AuthManager) CreateOperator(ctx context.Context, req domain.OperatorCreateRequest) (domain.UserAccount, error) {
	a.bootstrapUsers(ctx)
	username := normalizeUsername(req.Username)
	if len(username) < 4 {
		return domain.UserAccount{}, fmt.Errorf("username must be at least 4 characters: %w", store.ErrInvalidInput)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, fmt.Errorf("username must not contain spaces: %w", store.ErrInvalidInput)
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.UserAccount{}, fmt.Errorf("password must be at least 6 characters: %w", store.ErrInvalidInput)
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.UserAccount{}, fmt.Errorf("username already exists: %w", store.ErrInvalidInput)
	}

	return a.createUser(ctx, username, req.Password, domain.RoleOperator)
}

func (a *AuthManager) createUser(ctx context.Context, username string, password string, role string) (domain.UserAccount, error) {
	passwordHash, err := hashPassword(password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("hash password: %w", err)
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  passwordHash,
		Role:      role,
		Active:    true,
		CreatedAt: a.now().UTC(),
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, account); err != nil {
			return domain.UserAccount{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{
		password: passwordHash,
		role:     role,
		active:   true,
		created:  account.CreatedAt,
	}
	a.mu.Unlock()

	account.Password = ""
	return account, nil
}

func (a *AuthManager) ListOperators(ctx context.Context) []domain.UserAccount {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.UserAccount, 0, len(a.users))
	for username, user := range a.users {
		if user.role != domain.RoleOperator {
			continue
		}
		result = append(result, domain.UserAccount{
			Username:  username,
			Role:      user.role,
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	a.mu.RUnlock()
	slices.SortFunc(result, func(x, y domain.UserAccount) int { return strings.Compare(x.Username, y.Username) })
	return result
}

// bootstrapUsers refreshes the credential cache from the user store and
// upgrades plain-text passwords found there to bcrypt hashes.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("user store unavailable, using cached credentials")
		return
	}
	if len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := normalizeUsername(user.Username)
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
					a.log.Warn().Err(err).Str("username", username).Msg("password hash upgrade not saved")
				}
			}
		}
		a.users[username] = credential{
			password: password,
			role:     user.Role,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// matchesHash is false for an empty input or a stored value that is not a bcrypt hash.
func matchesHash(hash string, input string) bool {
	if strings.TrimSpace(input) == "" || !isPasswordHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hashed), err
}

func isPasswordHash(value string) bool {
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}
