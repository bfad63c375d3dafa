// Package backend defines the collaborator the device talks to: daily keys,
// scanners, check-in submissions, trace state and user records.
package backend

import (
	"context"

	"github.com/and161185/venue-trace/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Backend is the remote trace backend.
//
// Implementations report errs.ErrNotFound for unknown trace ids, scanners,
// issuers and users, errs.ErrEventNotValid when a check-in targets a closed
// event, and wrap transport failures with errs.Network.
type Backend interface {
	FetchDailyPublicKey(ctx context.Context) (model.DailyKey, error)
	FetchIssuerKeys(ctx context.Context, issuerID uuid.UUID) (model.IssuerKeys, error)
	ResolveScanner(ctx context.Context, scannerID uuid.UUID) (model.Scanner, error)

	SubmitCheckIn(ctx context.Context, p model.CheckInPayload) error
	SubmitCheckOut(ctx context.Context, p model.CheckOutPayload) error
	SubmitAdditionalData(ctx context.Context, p model.AdditionalDataPayload) error

	// FetchTraceInfo returns the backend record for a trace id. CheckOut is
	// nil while the trace is still checked in.
	FetchTraceInfo(ctx context.Context, traceID string) (model.TraceInfo, error)
	// FetchTraceInfos returns the records of the known ids among traceIDs.
	FetchTraceInfos(ctx context.Context, traceIDs []string) ([]model.TraceInfo, error)

	RegisterUser(ctx context.Context, d model.UserRegistrationData) (uuid.UUID, error)
	UpdateUser(ctx context.Context, userID uuid.UUID, d model.UserRegistrationData) error
	// DeleteUser removes a user; signature proves possession of the signing key.
	DeleteUser(ctx context.Context, userID uuid.UUID, signature []byte) error

	FetchAccessedTraceIDs(ctx context.Context) ([]model.AccessedHashes, error)
}
