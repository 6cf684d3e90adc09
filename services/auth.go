package services

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ipahook/common"
)

var (
	authUser  string
	authKey   string
	jwtSecret []byte
)

// ConfigureAuth sets the credentials and token secret the server accepts.
// Must run before the first request is served.
func ConfigureAuth(user, key, secret string) {
	authUser = user
	authKey = key
	jwtSecret = []byte(secret)
}

// IsValidUser checks an Authorization header value. Both basic tokens and
// bearer JWTs issued by this process are accepted.
func IsValidUser(authToken string) bool {
	tokenSlice := strings.SplitN(authToken, " ", 2)
	if len(tokenSlice) != 2 {
		common.Log.Debug("invalid token")
		return false
	}

	scheme := strings.ToLower(tokenSlice[0])
	switch scheme {
	case "basic":
		return basicAuthentication(tokenSlice[1])
	case "bearer":
		return jwtAuthentication(tokenSlice[1])
	default:
		common.Log.Debugf("got unsupported auth scheme: %s", scheme)
		return false
	}
}

// basicAuthentication compares base64(user:key) credentials against the
// configured pair in constant time.
func basicAuthentication(token string) bool {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		common.Log.Debugf("invalid basic token: %v", err)
		return false
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(parts[0]), []byte(authUser)) == 1
	keyOK := subtle.ConstantTimeCompare([]byte(parts[1]), []byte(authKey)) == 1
	return userOK && keyOK
}

// GenerateToken issues an HMAC-signed JWT valid for 12 hours.
func GenerateToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": authUser,
		"iat": now.Unix(),
		"exp": now.Add(12 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func jwtAuthentication(tokenString string) bool {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		common.Log.Debugf("jwt auth error: %v", err)
		return false
	}
	return token.Valid
}
