package middleware

import (
	jwtPkg "QRCodeService/pkg/jwt"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

type tokenMiddleware struct {
	secret string
}

func newTokenMiddleware(secret string) *tokenMiddleware {
	return &tokenMiddleware{secret: secret}
}

// NewTokenMiddleware requires a valid bearer token when a secret is
// configured and passes everything through otherwise.
func (m *middleware) NewTokenMiddleware(ctx *fiber.Ctx) error {
	if m.token.secret == "" {
		return ctx.Next()
	}

	userToken, err := jwtPkg.VerifyTokenHeader(ctx, m.token.secret)
	if err != nil {
		m.log.WithFields(logrus.Fields{
			"request_id": m.GetRequestID(ctx),
			"path":       ctx.Path(),
			"client_ip":  ctx.IP(),
			"error":      err.Error(),
		}).Warn("Token verification failed")
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized, access token invalid or expired",
		})
	}

	claims, ok := userToken.Claims.(jwt.MapClaims)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized, access token invalid or expired",
		})
	}

	subject, _ := claims.GetSubject()
	ctx.Locals(jwtPkg.SubjectKey, subject)

	m.log.WithFields(logrus.Fields{
		"request_id": m.GetRequestID(ctx),
		"subject":    subject,
	}).Debug("Authentication successful")
	return ctx.Next()
}
