// Package tracev1 is the wire API of the trace backend: request and response
// messages, a JSON codec and the gRPC service descriptor.
//
// Times are unix seconds, ids are canonical uuid strings, binary fields are
// base64 in JSON.
package tracev1

// Empty is used by calls without parameters or results.
type Empty struct{}

type DailyKey struct {
	KeyId       int    `json:"keyId"`
	CreatedAt   int64  `json:"createdAt"`
	IssuerId    string `json:"issuerId"`
	PublicKey   []byte `json:"publicKey"`
	Signature   []byte `json:"signature,omitempty"`
	SignedToken string `json:"signedToken,omitempty"`
}

type IssuerKeysRequest struct {
	IssuerId string `json:"issuerId"`
}

type IssuerKeys struct {
	IssuerId         string `json:"issuerId"`
	Name             string `json:"name"`
	SigningPublicKey []byte `json:"signingPublicKey"`
}

type ScannerRequest struct {
	ScannerId string `json:"scannerId"`
}

type Scanner struct {
	ScannerId      string `json:"scannerId"`
	LocationId     string `json:"locationId"`
	VenuePublicKey []byte `json:"venuePublicKey"`
}

type CheckIn struct {
	TraceId    string `json:"traceId"`
	ScannerId  string `json:"scannerId"`
	Timestamp  int64  `json:"timestamp"`
	Data       []byte `json:"data"`
	Iv         []byte `json:"iv"`
	Mac        []byte `json:"mac"`
	PublicKey  []byte `json:"publicKey"`
	DeviceType int    `json:"deviceType"`
}

type CheckOut struct {
	TraceId   string `json:"traceId"`
	Timestamp int64  `json:"timestamp"`
}

type AdditionalData struct {
	TraceId   string `json:"traceId"`
	PublicKey []byte `json:"publicKey"`
	Data      []byte `json:"data"`
	Iv        []byte `json:"iv"`
	Mac       []byte `json:"mac"`
}

type TraceInfoRequest struct {
	TraceId string `json:"traceId"`
}

type TraceInfosRequest struct {
	TraceIds []string `json:"traceIds"`
}

// TraceInfo is a backend check-in record. CheckOut is 0 while checked in.
type TraceInfo struct {
	TraceId    string `json:"traceId"`
	CheckIn    int64  `json:"checkin"`
	CheckOut   int64  `json:"checkout,omitempty"`
	LocationId string `json:"locationId"`
	CreatedAt  int64  `json:"createdAt,omitempty"`
}

type TraceInfos struct {
	TraceInfos []TraceInfo `json:"traceInfos"`
}

type UserData struct {
	Data      []byte `json:"data"`
	Iv        []byte `json:"iv"`
	Mac       []byte `json:"mac"`
	Signature []byte `json:"signature"`
	PublicKey []byte `json:"publicKey"`
}

type RegisterUserResponse struct {
	UserId string `json:"userId"`
}

type UpdateUserRequest struct {
	UserId string   `json:"userId"`
	Data   UserData `json:"data"`
}

type DeleteUserRequest struct {
	UserId    string `json:"userId"`
	Signature []byte `json:"signature"`
}

type AccessedHashes struct {
	HealthDepartmentId string   `json:"healthDepartmentId"`
	HashedTraceIds     []string `json:"hashedTraceIds"`
}

type AccessedTraceIds struct {
	Entries []AccessedHashes `json:"entries"`
}
