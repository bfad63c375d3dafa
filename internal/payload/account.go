package payload

import (
	"fmt"

	"github.com/and161185/venue-trace/internal/crypto/tracecrypto"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/gofrs/uuid/v5"
)

func deletionMessage(userID uuid.UUID) []byte {
	return append([]byte("DELETE_"), userID.String()...)
}

// SignUserDeletion signs the account deletion request of a registered identity.
func (c *Codec) SignUserDeletion(id model.UserIdentity) ([]byte, error) {
	if id.SigningKey == nil || !id.Registered() {
		return nil, errs.ErrIdentityMissing
	}
	sig, err := tracecrypto.Sign(c.rand, id.SigningKey, deletionMessage(id.UserID))
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", errs.ErrRandomnessUnavailable, err)
	}
	return sig, nil
}

// VerifyUserDeletion checks a deletion signature against the signing key the
// user registered with.
func VerifyUserDeletion(userID uuid.UUID, signingPublicKey, sig []byte) error {
	pub, err := tracecrypto.ParseSigningPublicKey(signingPublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSignatureInvalid, err)
	}
	if !tracecrypto.Verify(pub, deletionMessage(userID), sig) {
		return errs.ErrSignatureInvalid
	}
	return nil
}
