package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"lunastream/internal/database"
	"lunastream/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrDuplicateUser      = errors.New("username already taken")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUsernameRequired   = errors.New("username is required")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
)

const bcryptCost = 12

// Claims is the signed token payload. The admin flag is deliberately absent:
// it is re-read from the store on every admin-gated request.
type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service issues and verifies bearer tokens backed by the user store.
type Service struct {
	users  *database.UserRepository
	secret []byte
	ttl    time.Duration
}

// NewService creates an auth service signing tokens with secret.
func NewService(users *database.UserRepository, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Service{users: users, secret: []byte(secret), ttl: ttl}
}

// Register creates a user and returns it with a fresh token.
func (s *Service) Register(username, password string) (models.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.User{}, "", ErrUsernameRequired
	}
	if len(password) < 6 {
		return models.User{}, "", ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Insert(username, string(hash))
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return models.User{}, "", ErrDuplicateUser
		}
		return models.User{}, "", err
	}

	token, err := s.issueToken(user)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

// Login verifies credentials and returns the user with a fresh token. It never
// reveals whether the username or the password was wrong.
func (s *Service) Login(username, password string) (models.User, string, error) {
	user, err := s.users.GetByUsername(strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// Burn comparable time so missing users are not distinguishable
			// from wrong passwords.
			_ = bcrypt.CompareHashAndPassword(
				[]byte("$2a$12$........................................."), []byte(password))
			return models.User{}, "", ErrInvalidCredentials
		}
		return models.User{}, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, "", ErrInvalidCredentials
	}

	token, err := s.issueToken(user)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

// Verify validates a token and resolves its user from the store.
func (s *Service) Verify(token string) (models.User, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return models.User{}, ErrInvalidToken
	}

	user, err := s.users.GetByID(claims.UserID)
	if err != nil {
		return models.User{}, ErrInvalidToken
	}
	return user, nil
}

func (s *Service) issueToken(user models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			// Unique id so two logins in the same second get distinct tokens.
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Fingerprint returns a short loggable form of a token. The full token never
// reaches the logs.
func Fingerprint(token string) string {
	if len(token) <= 8 {
		return "********"
	}
	return token[:4] + "…" + token[len(token)-4:]
}
