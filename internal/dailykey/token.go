package dailykey

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// keyClaims is the ES256 token form of a daily key. iat carries createdAt,
// iss the issuer id.
type keyClaims struct {
	KeyID     int    `json:"keyId"`
	PublicKey []byte `json:"publicKey"`
	jwt.RegisteredClaims
}

// IssueToken signs k as an ES256 JWT with the issuer's signing key.
func IssueToken(k model.DailyKey, signer *ecdsa.PrivateKey) (string, error) {
	claims := keyClaims{
		KeyID:     k.KeyID,
		PublicKey: k.PublicKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   k.IssuerID.String(),
			IssuedAt: jwt.NewNumericDate(k.CreatedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(signer)
}

// IngestToken verifies an ES256 token against issuerKey and ingests the key
// it carries with the same expiry and retention rules as Ingest.
func (c *Cache) IngestToken(ctx context.Context, token string, issuerKey *ecdsa.PublicKey) (model.DailyKey, error) {
	if issuerKey == nil {
		return model.DailyKey{}, fmt.Errorf("daily key token: %w: no issuer key", errs.ErrSignatureInvalid)
	}
	var claims keyClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return issuerKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil {
		c.met.DailyKey("signature_invalid")
		return model.DailyKey{}, fmt.Errorf("daily key token: %w: %v", errs.ErrSignatureInvalid, err)
	}
	if claims.IssuedAt == nil {
		return model.DailyKey{}, fmt.Errorf("daily key token: %w: missing iat", errs.ErrInvalidArgument)
	}
	issuer, err := uuid.FromString(claims.Issuer)
	if err != nil {
		return model.DailyKey{}, fmt.Errorf("daily key token: %w: issuer: %v", errs.ErrInvalidArgument, err)
	}
	k := model.DailyKey{
		KeyID:       claims.KeyID,
		CreatedAt:   claims.IssuedAt.Time.Truncate(time.Second),
		IssuerID:    issuer,
		PublicKey:   claims.PublicKey,
		SignedToken: token,
	}
	if err := c.insert(ctx, k); err != nil {
		return model.DailyKey{}, err
	}
	return k, nil
}
