package usecases

import (
	"context"
	"fmt"
	"time"

	"retailcrm/internal/entities"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Claims is the operator identity carried by API tokens.
type Claims struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"org_id"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

type AuthUsecase struct {
	users     UserStore
	orgs      OrganizationStore
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewAuthUsecase(users UserStore, orgs OrganizationStore, secret string, ttl time.Duration) *AuthUsecase {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthUsecase{
		users:     users,
		orgs:      orgs,
		jwtSecret: []byte(secret),
		ttl:       ttl,
		now:       time.Now,
	}
}

// Register creates an operator bound to an existing organization.
func (uc *AuthUsecase) Register(ctx context.Context, orgID, username, password, role string) (*entities.User, error) {
	if username == "" || len(password) < 6 {
		return nil, fmt.Errorf("%w: username and a password of at least 6 characters are required", entities.ErrInvalidInput)
	}
	org, err := uc.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("organization %s: %w", orgID, entities.ErrNotFound)
	}

	existing, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: username already exists", entities.ErrInvalidInput)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = "agent"
	}
	user := &entities.User{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Username:       username,
		PasswordHash:   string(hashed),
		Role:           role,
	}
	if err := uc.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (uc *AuthUsecase) Login(ctx context.Context, username, password string) (string, error) {
	user, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", entities.ErrUnauthorized
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		return "", entities.ErrUnauthorized
	}

	now := uc.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Role:           user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(uc.ttl)),
		},
	})

	tokenString, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %v", err)
	}

	return tokenString, nil
}

// ParseToken validates an API token and returns its claims.
func (uc *AuthUsecase) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return uc.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, entities.ErrUnauthorized
	}
	if claims.UserID == "" || claims.OrganizationID == "" {
		return nil, entities.ErrUnauthorized
	}
	return claims, nil
}

// CreateOrganization is used by the CLI to bootstrap a tenant.
func (uc *AuthUsecase) CreateOrganization(ctx context.Context, name string) (*entities.Organization, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", entities.ErrInvalidInput)
	}
	org := &entities.Organization{ID: uuid.NewString(), Name: name}
	if err := uc.orgs.Create(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}
