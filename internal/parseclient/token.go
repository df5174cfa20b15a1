package parseclient

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"docpipe/internal/domain"
)

const callbackAudience = "parse-callback"

// CallbackClaims correlate a parse callback with the submission that asked for it.
type CallbackClaims struct {
	jwt.RegisteredClaims
	FileID      int64  `json:"fid"`
	ContentHash string `json:"hash"`
}

// Signer issues and verifies callback correlation tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer with an HMAC secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Issue returns a token binding fileID and contentHash until ttl elapses.
func (s *Signer) Issue(fileID int64, contentHash string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := CallbackClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  jwt.ClaimStrings{callbackAudience},
		},
		FileID:      fileID,
		ContentHash: contentHash,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing callback token: %w", err)
	}
	return signed, nil
}

// Verify checks token and that it was issued for (fileID, contentHash).
func (s *Signer) Verify(token string, fileID int64, contentHash string) error {
	claims := &CallbackClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithAudience(callbackAudience), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return domain.ErrUnauthorized
	}
	if claims.FileID != fileID || claims.ContentHash != contentHash {
		return domain.ErrForbidden
	}
	return nil
}
