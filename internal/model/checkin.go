package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Device types carried in the QR payload.
const (
	DeviceTypeIOS     = 0
	DeviceTypeAndroid = 1
	DeviceTypeStatic  = 2
)

// CheckinKind tags the self-check-in variant.
type CheckinKind int

const (
	CheckinTable CheckinKind = iota
	CheckinPrivateMeeting
)

// MeetingHost names the host of a private meeting.
type MeetingHost struct {
	FirstName string `json:"fn"`
	LastName  string `json:"ln"`
}

// SelfCheckin is a check-in triggered by scanning a venue QR code.
// Table carries optional venue additional data (e.g. a table number);
// PrivateMeeting carries the host names.
type SelfCheckin struct {
	ScannerID      uuid.UUID
	Kind           CheckinKind
	AdditionalData map[string]any // CheckinTable, nil means no side channel
	Host           *MeetingHost   // CheckinPrivateMeeting
}

// SideChannel returns the additional-data structure to encrypt for the venue.
func (r SelfCheckin) SideChannel() (any, bool) {
	switch r.Kind {
	case CheckinPrivateMeeting:
		if r.Host == nil {
			return nil, false
		}
		return *r.Host, true
	default:
		if len(r.AdditionalData) == 0 {
			return nil, false
		}
		return r.AdditionalData, true
	}
}

// QRCode is a built QR display payload together with the trace it encodes.
type QRCode struct {
	Payload     string // base32 text for QR display
	TraceID     TraceID
	Core        TraceIDCore
	GeneratedAt time.Time
}

// CheckInPayload is submitted to the backend on check-in.
type CheckInPayload struct {
	TraceID    string    `json:"traceId"`
	ScannerID  uuid.UUID `json:"scannerId"`
	Timestamp  int64     `json:"timestamp"`
	Data       []byte    `json:"data"`
	IV         []byte    `json:"iv"`
	MAC        []byte    `json:"mac"`
	PublicKey  []byte    `json:"publicKey"` // compressed scanner ephemeral key
	DeviceType int       `json:"deviceType"`
}

// CheckOutPayload is submitted to the backend on check-out.
type CheckOutPayload struct {
	TraceID   string `json:"traceId"`
	Timestamp int64  `json:"timestamp"`
}

// AdditionalDataPayload carries venue side-channel data.
type AdditionalDataPayload struct {
	TraceID   string `json:"traceId"`
	PublicKey []byte `json:"publicKey"` // compressed ephemeral key
	Data      []byte `json:"data"`
	IV        []byte `json:"iv"`
	MAC       []byte `json:"mac"`
}

// ContactData is the personal data encrypted into the registration package.
type ContactData struct {
	Version     int    `json:"v"`
	FirstName   string `json:"fn"`
	LastName    string `json:"ln"`
	PhoneNumber string `json:"pn"`
	Email       string `json:"e,omitempty"`
	Street      string `json:"st,omitempty"`
	HouseNumber string `json:"hn,omitempty"`
	PostalCode  string `json:"pc,omitempty"`
	City        string `json:"c,omitempty"`
}

// UserRegistrationData is the encrypted, authenticated, signed contact package.
type UserRegistrationData struct {
	Data      []byte `json:"data"`
	IV        []byte `json:"iv"`
	MAC       []byte `json:"mac"`
	Signature []byte `json:"signature"`
	PublicKey []byte `json:"publicKey"` // uncompressed signing key
}

// EventKind distinguishes check-in and check-out events.
type EventKind int

const (
	EventCheckIn EventKind = iota
	EventCheckOut
)

// TraceEvent is fired on confirmed check-in and on check-out.
type TraceEvent struct {
	Kind      EventKind
	TraceInfo TraceInfo
}
