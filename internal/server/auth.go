package server

import (
	"SynthVault/internal/vault"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuthorizationKey carries "Bearer <token>". Over HTTP it is the
// Authorization header.
const AuthorizationKey = "authorization"

// MinSecretLen is the shortest HMAC key NewAuthenticator accepts.
const MinSecretLen = 32

// AuthConfig configures bearer token verification. Tokens are HS256 JWTs
// whose subject is the acting account.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Authenticator verifies API tokens and signs them for operators.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	secret := []byte(strings.TrimSpace(cfg.HMACSecret))
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("auth secret must be at least %d bytes", MinSecretLen)
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{cfg: cfg, secret: secret, parser: jwt.NewParser(opts...)}, nil
}

// Verify returns the subject of a valid token.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token invalid")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errors.New("token has no subject")
	}
	return subject, nil
}

// Issue signs a token for subject that expires after ttl.
func (a *Authenticator) Issue(subject string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// identityInterceptor resolves the caller from a verified bearer token and
// lifts the request id out of metadata. Methods for which required returns
// true need a token; the rest may be called anonymously, but a token that
// is present must still verify.
func identityInterceptor(auth *Authenticator, required func(fullMethod string) bool, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if id := firstValue(md, RequestIDKey); id != "" {
			ctx = vault.WithRequestID(ctx, id)
		}

		header := firstValue(md, AuthorizationKey)
		if header == "" {
			if required(info.FullMethod) {
				return nil, status.Error(codes.Unauthenticated, "missing bearer token")
			}
			return handler(ctx, req)
		}
		token := extractBearer(header)
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "malformed authorization header")
		}
		subject, err := auth.Verify(token)
		if err != nil {
			logger.Debug().Err(err).Str("method", methodName(info.FullMethod)).Msg("token rejected")
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(context.WithValue(ctx, actorKey{}, subject), req)
	}
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
