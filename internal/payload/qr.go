package payload

import (
	"bytes"
	"crypto/ecdh"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/and161185/venue-trace/internal/crypto/tracecrypto"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/gofrs/uuid/v5"
)

// QR payload layout.
const (
	QRVersion   = 3
	BlobLen     = 16 + tracecrypto.SecretLen // userId || dataSecret
	TagLen      = 8
	ChecksumLen = 4
	QRLen       = 3 + 4 + model.TraceIDLen + BlobLen + tracecrypto.CompressedKeyLen + TagLen + ChecksumLen
)

// QREncoding is the text encoding of the QR display payload.
var QREncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// QR is a decoded QR display payload.
type QR struct {
	Version            byte
	DeviceType         byte
	DailyKeyID         byte
	Timestamp          uint32
	TraceID            [model.TraceIDLen]byte
	EncryptedBlob      []byte
	EphemeralPublicKey []byte // compressed
	Tag                []byte
}

// QRInput is what BuildQRCode needs. The codec borrows the keys.
type QRInput struct {
	TraceID    model.TraceID
	Identity   model.UserIdentity
	Ephemeral  *ecdh.PrivateKey
	DailyKey   model.DailyKey
	DeviceType *int // overrides the codec device type
}

// BuildQRCode assembles the QR payload. The output is a pure function of the
// inputs: the IV is the first 16 bytes of the compressed ephemeral key.
func (c *Codec) BuildQRCode(in QRInput) (QR, error) {
	if in.Ephemeral == nil {
		return QR{}, fmt.Errorf("%w: no ephemeral key", errs.ErrKeyUnavailable)
	}
	if len(in.Identity.DataSecret) != tracecrypto.SecretLen {
		return QR{}, fmt.Errorf("%w: data secret", errs.ErrKeyUnavailable)
	}
	if in.DailyKey.KeyID < 0 || in.DailyKey.KeyID > 0xFF {
		return QR{}, fmt.Errorf("%w: daily key id %d does not fit one byte", errs.ErrEncodingFailed, in.DailyKey.KeyID)
	}
	dailyPub, err := tracecrypto.ParsePublicKey(in.DailyKey.PublicKey)
	if err != nil {
		return QR{}, fmt.Errorf("%w: daily key: %v", errs.ErrKeyUnavailable, err)
	}
	dh, err := tracecrypto.SharedSecret(in.Ephemeral, dailyPub)
	if err != nil {
		return QR{}, fmt.Errorf("%w: ecdh: %v", errs.ErrKeyUnavailable, err)
	}

	ephPub := tracecrypto.CompressPublicKey(in.Ephemeral.PublicKey())
	plain := make([]byte, 0, BlobLen)
	plain = append(plain, in.Identity.UserID.Bytes()...)
	plain = append(plain, in.Identity.DataSecret...)
	blob, err := tracecrypto.AESCTR(tracecrypto.EncryptionKey(dh), ephPub[:tracecrypto.IVLen], plain)
	if err != nil {
		return QR{}, fmt.Errorf("%w: %v", errs.ErrKeyUnavailable, err)
	}

	ts := uint32(in.TraceID.CheckIn.Unix())
	dt := c.deviceType
	if in.DeviceType != nil {
		dt = byte(*in.DeviceType)
	}
	return QR{
		Version:            QRVersion,
		DeviceType:         dt,
		DailyKeyID:         byte(in.DailyKey.KeyID),
		Timestamp:          ts,
		TraceID:            in.TraceID.ID,
		EncryptedBlob:      blob,
		EphemeralPublicKey: ephPub,
		Tag:                verificationTag(in.Identity.DataSecret, ts, blob),
	}, nil
}

// verificationTag binds the blob to the long-term data secret.
func verificationTag(dataSecret []byte, ts uint32, blob []byte) []byte {
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], ts)
	return tracecrypto.HMAC(tracecrypto.AuthenticationKey(dataSecret), be[:], blob)[:TagLen]
}

// Bytes returns the binary payload including the trailing checksum.
func (q QR) Bytes() []byte {
	b := make([]byte, 0, QRLen)
	b = append(b, q.Version, q.DeviceType, q.DailyKeyID)
	b = binary.BigEndian.AppendUint32(b, q.Timestamp)
	b = append(b, q.TraceID[:]...)
	b = append(b, q.EncryptedBlob...)
	b = append(b, q.EphemeralPublicKey...)
	b = append(b, q.Tag...)
	sum := tracecrypto.SHA256(b)
	return append(b, sum[:ChecksumLen]...)
}

// String returns the base32 text shown in the QR code.
func (q QR) String() string { return QREncoding.EncodeToString(q.Bytes()) }

// TraceIDString returns the trace id in its wire form.
func (q QR) TraceIDString() string {
	return model.TraceID{ID: q.TraceID}.String()
}

// ParseQRCode decodes and checksum-verifies a QR text payload.
func ParseQRCode(s string) (QR, error) {
	b, err := QREncoding.DecodeString(strings.ToUpper(strings.TrimSpace(s)))
	if err != nil {
		return QR{}, fmt.Errorf("%w: base32: %v", errs.ErrInvalidArgument, err)
	}
	if len(b) != QRLen {
		return QR{}, fmt.Errorf("%w: qr length %d", errs.ErrInvalidArgument, len(b))
	}
	body, sum := b[:QRLen-ChecksumLen], b[QRLen-ChecksumLen:]
	if !bytes.Equal(tracecrypto.SHA256(body)[:ChecksumLen], sum) {
		return QR{}, errs.ErrChecksumMismatch
	}
	if body[0] != QRVersion {
		return QR{}, fmt.Errorf("%w: qr version %d", errs.ErrInvalidArgument, body[0])
	}

	q := QR{Version: body[0], DeviceType: body[1], DailyKeyID: body[2]}
	q.Timestamp = binary.BigEndian.Uint32(body[3:7])
	off := 7
	copy(q.TraceID[:], body[off:off+model.TraceIDLen])
	off += model.TraceIDLen
	q.EncryptedBlob = append([]byte(nil), body[off:off+BlobLen]...)
	off += BlobLen
	q.EphemeralPublicKey = append([]byte(nil), body[off:off+tracecrypto.CompressedKeyLen]...)
	off += tracecrypto.CompressedKeyLen
	q.Tag = append([]byte(nil), body[off:off+TagLen]...)
	return q, nil
}

// OpenQRBlob decrypts the identity blob with the daily private key and checks
// the verification tag. This is the health-authority side of BuildQRCode.
func OpenQRBlob(q QR, dailyPriv *ecdh.PrivateKey) (uuid.UUID, []byte, error) {
	ephPub, err := tracecrypto.ParsePublicKey(q.EphemeralPublicKey)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: ephemeral key: %v", errs.ErrKeyUnavailable, err)
	}
	dh, err := tracecrypto.SharedSecret(dailyPriv, ephPub)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: ecdh: %v", errs.ErrKeyUnavailable, err)
	}
	plain, err := tracecrypto.AESCTR(tracecrypto.EncryptionKey(dh), q.EphemeralPublicKey[:tracecrypto.IVLen], q.EncryptedBlob)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if len(plain) != BlobLen {
		return uuid.Nil, nil, fmt.Errorf("%w: blob length %d", errs.ErrInvalidArgument, len(plain))
	}
	uid, _ := uuid.FromBytes(plain[:16])
	secret := plain[16:]
	if !bytes.Equal(verificationTag(secret, q.Timestamp, q.EncryptedBlob), q.Tag) {
		return uuid.Nil, nil, errs.ErrMacMismatch
	}
	return uid, secret, nil
}
