package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/and161185/venue-trace/internal/backend"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/repository"
	"github.com/and161185/venue-trace/internal/traceid"
	"go.uber.org/zap"
)

// AccessService matches health-department accesses against local trace ids.
type AccessService interface {
	// Fetch downloads accessed hashes and returns the newly matched records.
	Fetch(ctx context.Context) ([]model.AccessedTraceID, error)
	// List returns all stored matches.
	List(ctx context.Context) ([]model.AccessedTraceID, error)
	// MarkNotified sets the notified date of unnotified matches.
	MarkNotified(ctx context.Context) error
}

type AccessServiceImpl struct {
	backend  backend.Backend
	infos    repository.TraceInfoRepository
	accessed repository.AccessedTraceRepository
	now      func() time.Time
	log      *zap.Logger
}

var _ AccessService = (*AccessServiceImpl)(nil)

func NewAccessService(b backend.Backend, infos repository.TraceInfoRepository, accessed repository.AccessedTraceRepository, log *zap.Logger) *AccessServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccessServiceImpl{backend: b, infos: infos, accessed: accessed, now: time.Now, log: log}
}

func (s *AccessServiceImpl) Fetch(ctx context.Context) ([]model.AccessedTraceID, error) {
	hashes, err := s.backend.FetchAccessedTraceIDs(ctx)
	if err != nil {
		return nil, classify("fetch accessed trace ids", err)
	}
	if len(hashes) == 0 {
		return nil, nil
	}
	infos, err := s.infos.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trace infos: %w", err)
	}
	stored, err := s.accessed.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accessed: %w", err)
	}
	known := make(map[string]model.AccessedTraceID, len(stored))
	for _, a := range stored {
		known[a.HealthDepartmentID.String()] = a
	}

	var fresh []model.AccessedTraceID
	for _, h := range hashes {
		want := make(map[string]struct{}, len(h.HashedTraceIDs))
		for _, x := range h.HashedTraceIDs {
			want[x] = struct{}{}
		}
		var matched []string
		for _, info := range infos {
			hashed, err := traceid.HashForHealthDepartment(info.TraceID, h.HealthDepartmentID)
			if err != nil {
				s.log.Warn("skip malformed trace id", zap.Error(err))
				continue
			}
			if _, ok := want[hashed]; ok {
				matched = append(matched, info.TraceID)
			}
		}
		if len(matched) == 0 {
			continue
		}

		rec, seen := known[h.HealthDepartmentID.String()]
		if !seen {
			rec = model.AccessedTraceID{HealthDepartmentID: h.HealthDepartmentID, SightDate: s.now().UTC()}
		}
		added := false
		for _, id := range matched {
			if !slices.Contains(rec.TraceIDs, id) {
				rec.TraceIDs = append(rec.TraceIDs, id)
				added = true
			}
		}
		if !added {
			continue
		}
		if err := s.accessed.Upsert(ctx, rec); err != nil {
			return fresh, fmt.Errorf("store accessed: %w", err)
		}
		s.log.Info("trace ids accessed", zap.String("healthDepartment", h.HealthDepartmentID.String()), zap.Int("traces", len(rec.TraceIDs)))
		fresh = append(fresh, rec)
	}
	return fresh, nil
}

func (s *AccessServiceImpl) List(ctx context.Context) ([]model.AccessedTraceID, error) {
	return s.accessed.List(ctx)
}

func (s *AccessServiceImpl) MarkNotified(ctx context.Context) error {
	all, err := s.accessed.List(ctx)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	for _, a := range all {
		if a.NotifiedDate != nil {
			continue
		}
		a.NotifiedDate = &now
		if err := s.accessed.Upsert(ctx, a); err != nil {
			return err
		}
	}
	return nil
}
