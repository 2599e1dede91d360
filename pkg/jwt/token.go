package jwtPkg

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const SubjectKey = "token_subject"

var (
	ErrMissingSecret = errors.New("JWT secret not configured")
	ErrEmptyHeader   = errors.New("empty Authorization header")
	ErrInvalidFormat = errors.New("invalid Authorization format")
)

// Sign issues an HS256 token for subject carrying the extra claims in data.
func Sign(subject string, data map[string]interface{}, secret string, expiresIn time.Duration) (string, int64, error) {
	if secret == "" {
		return "", 0, ErrMissingSecret
	}
	expiredAt := time.Now().Add(expiresIn).Unix()

	claims := jwt.MapClaims{}
	for k, v := range data {
		claims[k] = v
	}
	claims["sub"] = subject
	claims["exp"] = expiredAt
	claims["iat"] = time.Now().Unix()

	logrus.WithField("subject", subject).Debug("Creating token")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		logrus.WithError(err).Error("Failed to sign token")
		return "", 0, err
	}

	return signed, expiredAt, nil
}

// VerifyToken parses an HS256 token and checks its signature and expiry.
func VerifyToken(accessToken string, secret string) (*jwt.Token, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	return jwt.Parse(accessToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
}

// VerifyTokenHeader extracts the bearer token of the request and verifies it.
func VerifyTokenHeader(c *fiber.Ctx, secret string) (*jwt.Token, error) {
	log := logrus.WithField("func", "VerifyTokenHeader")

	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return nil, ErrEmptyHeader
	}

	accessToken, ok := strings.CutPrefix(header, "Bearer ")
	accessToken = strings.TrimSpace(accessToken)
	if !ok || accessToken == "" {
		log.Debug("Authorization header is not a bearer token")
		return nil, ErrInvalidFormat
	}

	token, err := VerifyToken(accessToken, secret)
	if err != nil {
		log.WithError(err).Debug("Failed to parse JWT token")
		return nil, err
	}

	return token, nil
}

// GetSubject returns the subject stored by the token middleware.
func GetSubject(c *fiber.Ctx) (string, error) {
	subject, ok := c.Locals(SubjectKey).(string)
	if !ok || subject == "" {
		return "", fiber.ErrUnauthorized
	}
	return subject, nil
}
