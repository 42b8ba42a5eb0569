package auth

import (
	"errors"
	"time"

	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims содержит информацию о пользователе в JWT токене.
// Токены выпускает внешний сервис идентификации, здесь они только проверяются.
type Claims struct {
	UserID uuid.UUID   `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

var (
	// ErrInvalidToken возвращается при невалидном токене.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnknownRole возвращается, если роль в токене не распознана.
	ErrUnknownRole = errors.New("unknown role in token")
)

// GenerateToken генерирует JWT токен для участника.
// Используется в тестах и служебных утилитах.
func GenerateToken(actor models.Actor, secret string, expiration time.Duration) (string, error) {
	claims := Claims{
		UserID: actor.UserID,
		Role:   actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken валидирует JWT токен и возвращает claims.
func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Проверка метода подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	if !claims.Role.Valid() {
		return nil, ErrUnknownRole
	}
	return claims, nil
}
