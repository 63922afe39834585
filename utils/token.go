package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgrijalva/jwt-go"
)

var ErrTokenExpired = errors.New("token expired")

// ApiTokenClaims is carried by every bearer token. The api_tokens row is the source of truth;
// the claims only locate it.
type ApiTokenClaims struct {
	TokenId string `json:"token_id"`
	OrgId   string `json:"org_id"`
	UserId  string `json:"user_id"`
	jwt.StandardClaims
}

func getJwtSecret() []byte {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return []byte("ServiceEngine-Secret")
	}
	return []byte(secret)
}

func JwtGenerate(tokenId string, orgId string, userId string, expiresAt *time.Time) (string, error) {
	claims := &ApiTokenClaims{
		TokenId: tokenId,
		OrgId:   orgId,
		UserId:  userId,
		StandardClaims: jwt.StandardClaims{
			Id:       tokenId,
			IssuedAt: time.Now().Unix(),
		},
	}
	if expiresAt != nil {
		claims.ExpiresAt = expiresAt.Unix()
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err := t.SignedString(getJwtSecret())
	if err != nil {
		return "", err
	}
	return token, nil
}

// JwtValidate verifies signature and expiry. Expired tokens return ErrTokenExpired.
func JwtValidate(token string) (*ApiTokenClaims, error) {
	claims := &ApiTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return getJwtSecret(), nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, err
	}
	if !parsed.Valid || claims.TokenId == "" || claims.OrgId == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// HashToken is the digest stored in api_tokens.token_hash.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
