package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidState = errors.New("invalid state")
	ErrExpiredState = errors.New("state expired")
)

// StateManager подписывает и проверяет OAuth state.
// State защищает callback от CSRF: непроверяемый или просроченный state
// отклоняется до обмена кода авторизации
type StateManager struct {
	secret     []byte
	expiration time.Duration
	issuer     string
}

// StateClaims полезная нагрузка подписанного state
type StateClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce"`
}

// NewStateManager создает менеджер подписи state
func NewStateManager(secret string, expiration time.Duration, issuer string) (*StateManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("state secret is empty")
	}

	return &StateManager{
		secret:     []byte(secret),
		expiration: expiration,
		issuer:     issuer,
	}, nil
}

// Issue выпускает подписанный state с одноразовым nonce
func (m *StateManager) Issue() (string, error) {
	now := time.Now()
	claims := StateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			ID:        uuid.New().String(),
		},
		Nonce: uuid.New().String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate проверяет подпись и срок действия state
func (m *StateManager) Validate(state string) (*StateClaims, error) {
	token, err := jwt.ParseWithClaims(state, &StateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredState
		}
		return nil, ErrInvalidState
	}

	claims, ok := token.Claims.(*StateClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidState
	}

	return claims, nil
}
