package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"stayline/internal/interfaces"
)

// AuthUsecase exchanges a business API key for a short-lived JWT used on the
// send/broadcast API. API keys are stored bcrypt-hashed.
type AuthUsecase struct {
	configs   interfaces.ConfigStore
	jwtSecret []byte
}

func NewAuthUsecase(configs interfaces.ConfigStore, secret string) *AuthUsecase {
	return &AuthUsecase{
		configs:   configs,
		jwtSecret: []byte(secret),
	}
}

func (uc *AuthUsecase) Login(ctx context.Context, businessID, apiKey string) (string, error) {
	business, err := uc.configs.GetBusiness(ctx, businessID)
	if err != nil {
		return "", err
	}
	if business == nil {
		return "", errors.New("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(business.APIKeyHash), []byte(apiKey)); err != nil {
		return "", errors.New("invalid credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"business_id": business.ID,
		"exp":         time.Now().Add(24 * time.Hour).Unix(),
	})
	tokenString, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %v", err)
	}
	return tokenString, nil
}

// HashAPIKey produces the stored form of an API key.
func HashAPIKey(apiKey string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
