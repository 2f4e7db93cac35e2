package scope

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTActorConfig configures the JWT-based actor extractor.
type JWTActorConfig struct {
	// SubjectClaim is the JWT claim containing the acting principal.
	// Supports dot-notation for nested claims. Default: "sub".
	SubjectClaim string

	// PublicKeyPath is the path to the PEM-encoded RSA public key for RS256
	// verification. If empty, tokens are parsed but NOT verified (suitable
	// for dev/testing behind trusted proxies).
	PublicKeyPath string

	// Issuer is the expected token issuer (iss claim). If empty, issuer is
	// not validated.
	Issuer string

	// Audience is the expected token audience (aud claim). If empty,
	// audience is not validated.
	Audience string

	// Logger for debugging. If nil, uses slog.Default().
	Logger *slog.Logger
}

// NewJWTActorExtractor creates an ActorExtractor that reads the acting
// principal from JWT Bearer tokens. The token is expected in the
// Authorization header: "Bearer <token>".
//
// Security model:
//   - If PublicKeyPath is set, tokens are cryptographically verified (RS256)
//   - If PublicKeyPath is empty, tokens are parsed without verification
//   - Missing or invalid tokens fall back to the X-User-Principal header
func NewJWTActorExtractor(cfg JWTActorConfig) (ActorExtractor, error) {
	if cfg.SubjectClaim == "" {
		cfg.SubjectClaim = "sub"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var publicKey *rsa.PublicKey
	if cfg.PublicKeyPath != "" {
		keyData, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key from %s: %w", cfg.PublicKeyPath, err)
		}
		block, _ := pem.Decode(keyData)
		if block == nil {
			return nil, fmt.Errorf("failed to decode PEM block from %s", cfg.PublicKeyPath)
		}
		parsedKey, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		rsaKey, ok := parsedKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA (got %T)", parsedKey)
		}
		publicKey = rsaKey
		cfg.Logger.Info("JWT actor extractor: using RS256 verification", "keyPath", cfg.PublicKeyPath)
	} else {
		cfg.Logger.Warn("JWT actor extractor: no public key configured, tokens parsed without verification (trusted proxy mode)")
	}

	return func(r *http.Request) string {
		token := extractBearerToken(r)
		if token == "" {
			return HeaderActorExtractor(r)
		}

		claims, err := parseJWTClaims(token, publicKey, cfg)
		if err != nil {
			cfg.Logger.Debug("JWT parse failed, falling back to header actor", "error", err)
			return HeaderActorExtractor(r)
		}

		if subject := claimString(claims, cfg.SubjectClaim); subject != "" {
			return subject
		}
		return HeaderActorExtractor(r)
	}, nil
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// parseJWTClaims parses and optionally verifies a JWT token.
func parseJWTClaims(tokenString string, publicKey *rsa.PublicKey, cfg JWTActorConfig) (jwt.MapClaims, error) {
	parserOpts := []jwt.ParserOption{}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}

	var token *jwt.Token
	var err error

	if publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return publicKey, nil
		}, parserOpts...)
	} else {
		// Trusted proxy mode: parse without verification
		parser := jwt.NewParser(parserOpts...)
		token, _, err = parser.ParseUnverified(tokenString, jwt.MapClaims{})
	}

	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}

	return claims, nil
}

// claimString resolves a dot-notation claim path to a string value.
func claimString(claims jwt.MapClaims, claimPath string) string {
	parts := strings.Split(claimPath, ".")
	var current interface{} = map[string]interface{}(claims)

	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		current, ok = m[part]
		if !ok {
			return ""
		}
	}

	if strVal, ok := current.(string); ok {
		return strVal
	}
	return ""
}
