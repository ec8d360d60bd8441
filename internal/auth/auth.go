package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 8
	// MaxPasswordLength is the bcrypt input limit in bytes
	MaxPasswordLength = 72
	defaultTokenTTL   = 24 * time.Hour
	defaultIssuer     = "invoice-service"
)

var (
	// ErrWeakPassword is returned by Register for passwords shorter than MinPasswordLength
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	// ErrPasswordTooLong is returned by Register for passwords over MaxPasswordLength bytes
	ErrPasswordTooLong = fmt.Errorf("password must be at most %d bytes", MaxPasswordLength)
)

// UserStore persists accounts
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Config holds identity provider configuration
type Config struct {
	Secret     string
	TokenTTL   time.Duration
	Issuer     string
	BcryptCost int
	Logger     *slog.Logger
}

// Claims are the token claims; Subject carries the user id
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Service registers users, verifies passwords and issues/validates HS256 tokens
type Service struct {
	users     UserStore
	secret    []byte
	ttl       time.Duration
	issuer    string
	cost      int
	dummyHash []byte
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new Service
func NewService(users UserStore, config Config) (*Service, error) {
	if config.Secret == "" {
		return nil, errors.New("auth secret is required")
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = defaultTokenTTL
	}
	if config.Issuer == "" {
		config.Issuer = defaultIssuer
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	// compared against on unknown emails so both login failures cost the same
	dummy, err := bcrypt.GenerateFromPassword([]byte("invoice-service-dummy"), config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare password hasher: %w", err)
	}

	return &Service{
		users:     users,
		secret:    []byte(config.Secret),
		ttl:       config.TokenTTL,
		issuer:    config.Issuer,
		cost:      config.BcryptCost,
		dummyHash: dummy,
		logger:    config.Logger,
		now:       time.Now,
	}, nil
}

// Register creates an account and returns it with a fresh token
func (s *Service) Register(ctx context.Context, email, password string) (*domain.User, string, error) {
	if len(password) < MinPasswordLength {
		return nil, "", ErrWeakPassword
	}
	if len(password) > MaxPasswordLength {
		return nil, "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, email, string(hash))
	if err != nil {
		return nil, "", err
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("User registered", slog.String("user_id", user.ID))
	return user, token, nil
}

// Login verifies credentials. Unknown email and wrong password both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, "", domain.ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn("Login failed", slog.String("user_id", user.ID))
		return nil, "", domain.ErrInvalidCredentials
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// IssueToken signs a token for user
func (s *Service) IssueToken(user *domain.User) (string, error) {
	now := s.now()
	claims := Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Authenticate validates a token and returns the user id it was issued to
func (s *Service) Authenticate(tokenString string) (string, error) {
	if tokenString == "" {
		return "", domain.ErrUnauthorized
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", domain.ErrUnauthorized
	}
	return claims.Subject, nil
}

// TokenTTL returns how long issued tokens stay valid
func (s *Service) TokenTTL() time.Duration {
	return s.ttl
}
