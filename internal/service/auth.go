package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"flag-classifier/internal/models"
	"flag-classifier/internal/repository"
)

var ( // Define custom errors
	ErrExpertAlreadyExists = errors.New("expert already exists")
	ErrExpertNotFound      = errors.New("expert not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRegistrationClosed  = errors.New("registration is closed")
	ErrInvalidToken        = errors.New("invalid token")
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

type AuthService interface {
	Register(ctx context.Context, username, password string) (*models.Expert, error)
	Login(ctx context.Context, username, password string) (string, time.Time, error) // Returns JWT token, expiration time, and error
	Logout(ctx context.Context, username string) error
	ParseToken(tokenString string) (*models.Claims, error)
}

// AuthConfig holds the token and registration settings.
type AuthConfig struct {
	JWTSecret         string
	TokenTTL          time.Duration
	AllowRegistration bool
}

type authService struct {
	repo   repository.ExpertRepository
	cfg    AuthConfig
	logger *zap.Logger
}

func NewAuthService(repo repository.ExpertRepository, cfg AuthConfig, logger *zap.Logger) AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &authService{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
	}
}

// Register creates an expert. When registration is closed only the first
// expert may register.
func (s *authService) Register(ctx context.Context, username, password string) (*models.Expert, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	if !s.cfg.AllowRegistration {
		count, err := s.repo.CountExperts(ctx)
		if err != nil {
			s.logger.Error("Failed to count experts", zap.Error(err))
			return nil, fmt.Errorf("failed to check existing experts: %w", err)
		}
		if count > 0 {
			return nil, ErrRegistrationClosed
		}
	}

	_, err := s.repo.GetExpertByUsername(ctx, username)
	if err == nil {
		return nil, ErrExpertAlreadyExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		s.logger.Error("Failed to look up expert", zap.Error(err))
		return nil, fmt.Errorf("failed to check existing experts: %w", err)
	}

	passwordHash, err := hashPassword(password)
	if err != nil {
		s.logger.Error("Failed to hash password", zap.Error(err))
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	expert := &models.Expert{
		Username:     username,
		PasswordHash: passwordHash,
	}
	if err := s.repo.CreateExpert(ctx, expert); err != nil {
		s.logger.Error("Failed to create expert", zap.Error(err))
		return nil, fmt.Errorf("failed to create expert: %w", err)
	}

	s.logger.Info("Expert registered", zap.String("username", username))
	return expert, nil
}

func (s *authService) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	expert, err := s.repo.GetExpertByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, ErrExpertNotFound
		}
		s.logger.Error("Failed to get expert by username", zap.Error(err))
		return "", time.Time{}, fmt.Errorf("failed to retrieve expert: %w", err)
	}

	if !verifyPassword(expert.PasswordHash, password) {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := time.Now()
	expirationTime := now.Add(s.cfg.TokenTTL)
	claims := &models.Claims{
		Username: expert.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   expert.Username,
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		s.logger.Error("Failed to generate JWT token", zap.Error(err))
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}

	s.logger.Info("Expert logged in successfully.", zap.String("username", expert.Username))
	return tokenString, expirationTime, nil
}

// Logout only records the event; tokens stay valid until they expire.
func (s *authService) Logout(_ context.Context, username string) error {
	s.logger.Info("Expert logged out successfully.", zap.String("username", username))
	return nil
}

// ParseToken validates a token signed by Login and returns its claims.
func (s *authService) ParseToken(tokenString string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Ensure the token's signing method is what we expect
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// hashPassword uses Argon2 to hash the password.
func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$BASE64_SALT$BASE64_HASH
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedHash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads, encodedSalt, encodedHash), nil
}

// verifyPassword compares a plaintext password with a hashed password.
func verifyPassword(hashedPassword, password string) bool {
	// ["", "argon2id", "v=19", "m=65536,t=1,p=4", "salt", "hash"]
	sections := strings.Split(hashedPassword, "$")
	if len(sections) != 6 || sections[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(sections[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(sections[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false
	}

	decodedSalt, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false
	}
	decodedHash, err := base64.RawStdEncoding.DecodeString(sections[5])
	if err != nil {
		return false
	}

	// Re-hash the provided password with the extracted parameters and salt
	comparisonHash := argon2.IDKey([]byte(password), decodedSalt, t, m, p, uint32(len(decodedHash)))
	return subtle.ConstantTimeCompare(comparisonHash, decodedHash) == 1
}
