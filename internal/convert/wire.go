// Package convert maps domain models to tracev1 wire messages and back.
package convert

import (
	"fmt"
	"time"

	model "github.com/and161185/venue-trace/internal/model"
	pb "github.com/and161185/venue-trace/internal/rpc/tracev1"
	u "github.com/gofrs/uuid/v5"
)

// --- helpers ---

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(s int64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(s, 0).UTC()
}

func optUnix(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return unix(*t)
}

func optFromUnix(s int64) *time.Time {
	if s == 0 {
		return nil
	}
	t := fromUnix(s)
	return &t
}

// ParseID parses a canonical uuid string; field names the value in errors.
func ParseID(field, s string) (u.UUID, error) {
	id, err := u.FromString(s)
	if err != nil {
		return u.Nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return id, nil
}

// --- Keys ---

// ToWireDailyKey converts a daily key to its wire form.
func ToWireDailyKey(k model.DailyKey) *pb.DailyKey {
	return &pb.DailyKey{
		KeyId:       k.KeyID,
		CreatedAt:   unix(k.CreatedAt),
		IssuerId:    k.IssuerID.String(),
		PublicKey:   k.PublicKey,
		Signature:   k.Signature,
		SignedToken: k.SignedToken,
	}
}

// FromWireDailyKey converts a wire daily key.
func FromWireDailyKey(in *pb.DailyKey) (model.DailyKey, error) {
	if in == nil {
		return model.DailyKey{}, fmt.Errorf("nil DailyKey")
	}
	issuer, err := ParseID("issuer id", in.IssuerId)
	if err != nil {
		return model.DailyKey{}, err
	}
	return model.DailyKey{
		KeyID:       in.KeyId,
		CreatedAt:   fromUnix(in.CreatedAt),
		IssuerID:    issuer,
		PublicKey:   in.PublicKey,
		Signature:   in.Signature,
		SignedToken: in.SignedToken,
	}, nil
}

// ToWireIssuerKeys converts issuer keys to their wire form.
func ToWireIssuerKeys(k model.IssuerKeys) *pb.IssuerKeys {
	return &pb.IssuerKeys{IssuerId: k.IssuerID.String(), Name: k.Name, SigningPublicKey: k.SigningPublicKey}
}

// FromWireIssuerKeys converts wire issuer keys.
func FromWireIssuerKeys(in *pb.IssuerKeys) (model.IssuerKeys, error) {
	if in == nil {
		return model.IssuerKeys{}, fmt.Errorf("nil IssuerKeys")
	}
	id, err := ParseID("issuer id", in.IssuerId)
	if err != nil {
		return model.IssuerKeys{}, err
	}
	return model.IssuerKeys{IssuerID: id, Name: in.Name, SigningPublicKey: in.SigningPublicKey}, nil
}

// ToWireScanner converts a scanner to its wire form.
func ToWireScanner(s model.Scanner) *pb.Scanner {
	return &pb.Scanner{
		ScannerId:      s.ScannerID.String(),
		LocationId:     s.LocationID.String(),
		VenuePublicKey: s.VenuePublicKey,
	}
}

// FromWireScanner converts a wire scanner.
func FromWireScanner(in *pb.Scanner) (model.Scanner, error) {
	if in == nil {
		return model.Scanner{}, fmt.Errorf("nil Scanner")
	}
	sid, err := ParseID("scanner id", in.ScannerId)
	if err != nil {
		return model.Scanner{}, err
	}
	lid, err := ParseID("location id", in.LocationId)
	if err != nil {
		return model.Scanner{}, err
	}
	return model.Scanner{ScannerID: sid, LocationID: lid, VenuePublicKey: in.VenuePublicKey}, nil
}

// --- Submissions (client -> server) ---

// ToWireCheckIn converts a check-in payload.
func ToWireCheckIn(p model.CheckInPayload) *pb.CheckIn {
	return &pb.CheckIn{
		TraceId:    p.TraceID,
		ScannerId:  p.ScannerID.String(),
		Timestamp:  p.Timestamp,
		Data:       p.Data,
		Iv:         p.IV,
		Mac:        p.MAC,
		PublicKey:  p.PublicKey,
		DeviceType: p.DeviceType,
	}
}

// FromWireCheckIn converts a wire check-in.
func FromWireCheckIn(in *pb.CheckIn) (model.CheckInPayload, error) {
	if in == nil {
		return model.CheckInPayload{}, fmt.Errorf("nil CheckIn")
	}
	sid, err := ParseID("scanner id", in.ScannerId)
	if err != nil {
		return model.CheckInPayload{}, err
	}
	return model.CheckInPayload{
		TraceID:    in.TraceId,
		ScannerID:  sid,
		Timestamp:  in.Timestamp,
		Data:       in.Data,
		IV:         in.Iv,
		MAC:        in.Mac,
		PublicKey:  in.PublicKey,
		DeviceType: in.DeviceType,
	}, nil
}

// ToWireCheckOut converts a check-out payload.
func ToWireCheckOut(p model.CheckOutPayload) *pb.CheckOut {
	return &pb.CheckOut{TraceId: p.TraceID, Timestamp: p.Timestamp}
}

// FromWireCheckOut converts a wire check-out.
func FromWireCheckOut(in *pb.CheckOut) model.CheckOutPayload {
	if in == nil {
		return model.CheckOutPayload{}
	}
	return model.CheckOutPayload{TraceID: in.TraceId, Timestamp: in.Timestamp}
}

// ToWireAdditionalData converts an additional-data payload.
func ToWireAdditionalData(p model.AdditionalDataPayload) *pb.AdditionalData {
	return &pb.AdditionalData{TraceId: p.TraceID, PublicKey: p.PublicKey, Data: p.Data, Iv: p.IV, Mac: p.MAC}
}

// FromWireAdditionalData converts wire additional data.
func FromWireAdditionalData(in *pb.AdditionalData) model.AdditionalDataPayload {
	if in == nil {
		return model.AdditionalDataPayload{}
	}
	return model.AdditionalDataPayload{TraceID: in.TraceId, PublicKey: in.PublicKey, Data: in.Data, IV: in.Iv, MAC: in.Mac}
}

// ToWireUserData converts a registration package.
func ToWireUserData(d model.UserRegistrationData) *pb.UserData {
	return &pb.UserData{Data: d.Data, Iv: d.IV, Mac: d.MAC, Signature: d.Signature, PublicKey: d.PublicKey}
}

// FromWireUserData converts a wire registration package.
func FromWireUserData(in *pb.UserData) model.UserRegistrationData {
	if in == nil {
		return model.UserRegistrationData{}
	}
	return model.UserRegistrationData{Data: in.Data, IV: in.Iv, MAC: in.Mac, Signature: in.Signature, PublicKey: in.PublicKey}
}

// --- Trace state (server -> client) ---

// ToWireTraceInfo converts a trace info.
func ToWireTraceInfo(t model.TraceInfo) pb.TraceInfo {
	return pb.TraceInfo{
		TraceId:    t.TraceID,
		CheckIn:    unix(t.CheckIn),
		CheckOut:   optUnix(t.CheckOut),
		LocationId: t.LocationID.String(),
		CreatedAt:  optUnix(t.CreatedAt),
	}
}

// FromWireTraceInfo converts a wire trace info.
func FromWireTraceInfo(in pb.TraceInfo) (model.TraceInfo, error) {
	lid, err := ParseID("location id", in.LocationId)
	if err != nil {
		return model.TraceInfo{}, err
	}
	return model.TraceInfo{
		TraceID:    in.TraceId,
		CheckIn:    fromUnix(in.CheckIn),
		CheckOut:   optFromUnix(in.CheckOut),
		LocationID: lid,
		CreatedAt:  optFromUnix(in.CreatedAt),
	}, nil
}

// ToWireTraceInfos converts a slice of trace infos.
func ToWireTraceInfos(ts []model.TraceInfo) *pb.TraceInfos {
	out := make([]pb.TraceInfo, 0, len(ts))
	for _, t := range ts {
		out = append(out, ToWireTraceInfo(t))
	}
	return &pb.TraceInfos{TraceInfos: out}
}

// FromWireTraceInfos converts wire trace infos.
func FromWireTraceInfos(in *pb.TraceInfos) ([]model.TraceInfo, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]model.TraceInfo, 0, len(in.TraceInfos))
	for i, t := range in.TraceInfos {
		m, err := FromWireTraceInfo(t)
		if err != nil {
			return nil, fmt.Errorf("traceInfo[%d]: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// ToWireAccessed converts accessed hash lists.
func ToWireAccessed(as []model.AccessedHashes) *pb.AccessedTraceIds {
	out := make([]pb.AccessedHashes, 0, len(as))
	for _, a := range as {
		out = append(out, pb.AccessedHashes{
			HealthDepartmentId: a.HealthDepartmentID.String(),
			HashedTraceIds:     a.HashedTraceIDs,
		})
	}
	return &pb.AccessedTraceIds{Entries: out}
}

// FromWireAccessed converts wire accessed hash lists.
func FromWireAccessed(in *pb.AccessedTraceIds) ([]model.AccessedHashes, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]model.AccessedHashes, 0, len(in.Entries))
	for i, e := range in.Entries {
		id, err := ParseID("health department id", e.HealthDepartmentId)
		if err != nil {
			return nil, fmt.Errorf("entry[%d]: %w", i, err)
		}
		out = append(out, model.AccessedHashes{HealthDepartmentID: id, HashedTraceIDs: e.HashedTraceIds})
	}
	return out, nil
}
