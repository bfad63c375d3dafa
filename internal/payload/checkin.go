package payload

import (
	"crypto/ecdh"
	"encoding/json"
	"fmt"
	"time"

	"github.com/and161185/venue-trace/internal/crypto/tracecrypto"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/model"
)

// checkInPlainLen is version, daily key id, ephemeral key, tag and blob.
const checkInPlainLen = 2 + tracecrypto.CompressedKeyLen + TagLen + BlobLen

// CheckInContents is the venue-side view of a decrypted check-in.
type CheckInContents struct {
	Version            byte
	DailyKeyID         byte
	EphemeralPublicKey []byte
	Tag                []byte
	EncryptedBlob      []byte
}

// BuildCheckIn re-encrypts the QR payload for the venue. A nil scannerEph is
// replaced by a fresh key.
func (c *Codec) BuildCheckIn(q QR, scanner model.Scanner, scannerEph *ecdh.PrivateKey) (model.CheckInPayload, error) {
	plain := make([]byte, 0, checkInPlainLen)
	plain = append(plain, q.Version, q.DailyKeyID)
	plain = append(plain, q.EphemeralPublicKey...)
	plain = append(plain, q.Tag...)
	plain = append(plain, q.EncryptedBlob...)
	if len(plain) != checkInPlainLen {
		return model.CheckInPayload{}, fmt.Errorf("%w: malformed qr fields", errs.ErrEncodingFailed)
	}

	env, err := c.seal(scanner.VenuePublicKey, scannerEph, plain)
	if err != nil {
		return model.CheckInPayload{}, err
	}
	return model.CheckInPayload{
		TraceID:    q.TraceIDString(),
		ScannerID:  scanner.ScannerID,
		Timestamp:  int64(q.Timestamp),
		Data:       env.Data,
		IV:         env.IV,
		MAC:        env.MAC,
		PublicKey:  env.PublicKey,
		DeviceType: int(q.DeviceType),
	}, nil
}

// DecryptCheckIn verifies and opens a check-in with the venue private key.
func DecryptCheckIn(p model.CheckInPayload, venuePriv *ecdh.PrivateKey) (CheckInContents, error) {
	plain, err := open(venuePriv, envelope{Data: p.Data, IV: p.IV, MAC: p.MAC, PublicKey: p.PublicKey})
	if err != nil {
		return CheckInContents{}, err
	}
	if len(plain) != checkInPlainLen {
		return CheckInContents{}, fmt.Errorf("%w: check-in length %d", errs.ErrInvalidArgument, len(plain))
	}
	off := 2
	out := CheckInContents{Version: plain[0], DailyKeyID: plain[1]}
	out.EphemeralPublicKey = plain[off : off+tracecrypto.CompressedKeyLen]
	off += tracecrypto.CompressedKeyLen
	out.Tag = plain[off : off+TagLen]
	off += TagLen
	out.EncryptedBlob = plain[off:]
	return out, nil
}

// BuildCheckOut builds the check-out request for a trace id.
func BuildCheckOut(traceID string, at time.Time) model.CheckOutPayload {
	return model.CheckOutPayload{TraceID: traceID, Timestamp: at.Unix()}
}

// BuildAdditionalData encrypts a JSON side channel for the venue.
func (c *Codec) BuildAdditionalData(traceID string, venuePublicKey []byte, data any) (model.AdditionalDataPayload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return model.AdditionalDataPayload{}, fmt.Errorf("%w: %v", errs.ErrEncodingFailed, err)
	}
	env, err := c.seal(venuePublicKey, nil, raw)
	if err != nil {
		return model.AdditionalDataPayload{}, err
	}
	return model.AdditionalDataPayload{
		TraceID:   traceID,
		PublicKey: env.PublicKey,
		Data:      env.Data,
		IV:        env.IV,
		MAC:       env.MAC,
	}, nil
}

// DecryptAdditionalData opens a side channel into out.
func DecryptAdditionalData(p model.AdditionalDataPayload, venuePriv *ecdh.PrivateKey, out any) error {
	plain, err := open(venuePriv, envelope{Data: p.Data, IV: p.IV, MAC: p.MAC, PublicKey: p.PublicKey})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
	}
	return nil
}

// BuildUserRegistrationData encrypts contact data under the identity data
// secret and signs ciphertext, mac and iv with the identity signing key.
func (c *Codec) BuildUserRegistrationData(id model.UserIdentity, contact model.ContactData) (model.UserRegistrationData, error) {
	if id.SigningKey == nil || len(id.DataSecret) != tracecrypto.SecretLen {
		return model.UserRegistrationData{}, errs.ErrIdentityMissing
	}
	raw, err := json.Marshal(contact)
	if err != nil {
		return model.UserRegistrationData{}, fmt.Errorf("%w: %v", errs.ErrEncodingFailed, err)
	}
	iv, err := tracecrypto.Rand(c.rand, tracecrypto.IVLen)
	if err != nil {
		return model.UserRegistrationData{}, err
	}
	ct, err := tracecrypto.AESCTR(tracecrypto.EncryptionKey(id.DataSecret), iv, raw)
	if err != nil {
		return model.UserRegistrationData{}, fmt.Errorf("%w: %v", errs.ErrKeyUnavailable, err)
	}
	mac := tracecrypto.HMAC(tracecrypto.AuthenticationKey(id.DataSecret), ct)

	sig, err := tracecrypto.Sign(c.rand, id.SigningKey, signedRegistration(ct, mac, iv))
	if err != nil {
		return model.UserRegistrationData{}, fmt.Errorf("%w: sign: %v", errs.ErrRandomnessUnavailable, err)
	}
	pub, err := tracecrypto.MarshalSigningPublicKey(&id.SigningKey.PublicKey)
	if err != nil {
		return model.UserRegistrationData{}, fmt.Errorf("%w: %v", errs.ErrKeyUnavailable, err)
	}
	return model.UserRegistrationData{Data: ct, IV: iv, MAC: mac, Signature: sig, PublicKey: pub}, nil
}

func signedRegistration(ct, mac, iv []byte) []byte {
	msg := make([]byte, 0, len(ct)+len(mac)+len(iv))
	msg = append(msg, ct...)
	msg = append(msg, mac...)
	return append(msg, iv...)
}

// VerifyUserRegistrationData checks the signature with the embedded key.
func VerifyUserRegistrationData(d model.UserRegistrationData) error {
	pub, err := tracecrypto.ParseSigningPublicKey(d.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSignatureInvalid, err)
	}
	if !tracecrypto.Verify(pub, signedRegistration(d.Data, d.MAC, d.IV), d.Signature) {
		return errs.ErrSignatureInvalid
	}
	return nil
}

// DecryptUserRegistrationData opens a registration package with the data
// secret recovered from a QR blob.
func DecryptUserRegistrationData(d model.UserRegistrationData, dataSecret []byte) (model.ContactData, error) {
	if !tracecrypto.VerifyHMAC(tracecrypto.AuthenticationKey(dataSecret), d.MAC, d.Data) || len(d.MAC) != tracecrypto.MACLen {
		return model.ContactData{}, errs.ErrMacMismatch
	}
	raw, err := tracecrypto.AESCTR(tracecrypto.EncryptionKey(dataSecret), d.IV, d.Data)
	if err != nil {
		return model.ContactData{}, err
	}
	var out model.ContactData
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.ContactData{}, fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
	}
	return out, nil
}
