package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/venue-trace/internal/backend"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/keystore"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/payload"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// RegistrationService manages the user record held by the backend.
type RegistrationService interface {
	// Register creates an identity if needed and registers the contact data.
	Register(ctx context.Context, contact model.ContactData) (uuid.UUID, error)
	// UpdateContactData replaces the registered contact data. When the backend
	// no longer knows the user a fresh identity is created and registered.
	UpdateContactData(ctx context.Context, contact model.ContactData) (uuid.UUID, error)
	// DeleteAccount removes the user from the backend and wipes local state.
	DeleteAccount(ctx context.Context) error
}

// Resetter drops dependent local state after an account is deleted.
type Resetter interface {
	Reset(ctx context.Context) error
}

type RegistrationServiceImpl struct {
	keys    *keystore.Store
	codec   *payload.Codec
	backend backend.Backend
	reset   Resetter
	log     *zap.Logger
}

var _ RegistrationService = (*RegistrationServiceImpl)(nil)

// NewRegistrationService constructs the service. reset may be nil.
func NewRegistrationService(keys *keystore.Store, codec *payload.Codec, b backend.Backend, reset Resetter, log *zap.Logger) *RegistrationServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistrationServiceImpl{keys: keys, codec: codec, backend: b, reset: reset, log: log}
}

func (s *RegistrationServiceImpl) Register(ctx context.Context, contact model.ContactData) (uuid.UUID, error) {
	id, err := s.keys.Identity(ctx)
	switch {
	case errors.Is(err, errs.ErrIdentityMissing):
		if id, err = s.keys.CreateIdentity(ctx); err != nil {
			return uuid.Nil, err
		}
	case err != nil:
		return uuid.Nil, err
	case id.Registered():
		return id.UserID, nil
	}
	return s.register(ctx, id, contact)
}

func (s *RegistrationServiceImpl) register(ctx context.Context, id model.UserIdentity, contact model.ContactData) (uuid.UUID, error) {
	d, err := s.codec.BuildUserRegistrationData(id, contact)
	if err != nil {
		return uuid.Nil, err
	}
	uid, err := s.backend.RegisterUser(ctx, d)
	if err != nil {
		return uuid.Nil, classify("register user", err)
	}
	if err := s.keys.SetUserID(ctx, uid); err != nil {
		return uuid.Nil, err
	}
	s.log.Info("user registered", zap.String("userId", uid.String()))
	return uid, nil
}

func (s *RegistrationServiceImpl) UpdateContactData(ctx context.Context, contact model.ContactData) (uuid.UUID, error) {
	id, err := s.keys.Identity(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if !id.Registered() {
		return s.register(ctx, id, contact)
	}
	d, err := s.codec.BuildUserRegistrationData(id, contact)
	if err != nil {
		return uuid.Nil, err
	}
	err = s.backend.UpdateUser(ctx, id.UserID, d)
	switch {
	case err == nil:
		return id.UserID, nil
	case errors.Is(err, errs.ErrNotFound):
		s.log.Warn("user unknown to backend, registering a new identity", zap.String("userId", id.UserID.String()))
		fresh, err := s.keys.CreateIdentity(ctx)
		if err != nil {
			return uuid.Nil, err
		}
		return s.register(ctx, fresh, contact)
	default:
		return uuid.Nil, classify("update user", err)
	}
}

func (s *RegistrationServiceImpl) DeleteAccount(ctx context.Context) error {
	id, err := s.keys.Identity(ctx)
	if err != nil {
		return err
	}
	if id.Registered() {
		sig, err := s.codec.SignUserDeletion(id)
		if err != nil {
			return err
		}
		err = s.backend.DeleteUser(ctx, id.UserID, sig)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return classify("delete user", err)
		}
	}
	if err := s.keys.PurgeAll(ctx); err != nil {
		return fmt.Errorf("purge key material: %w", err)
	}
	if s.reset != nil {
		if err := s.reset.Reset(ctx); err != nil {
			return fmt.Errorf("reset local state: %w", err)
		}
	}
	s.log.Info("account deleted", zap.String("userId", id.UserID.String()))
	return nil
}
