package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/and161185/venue-trace/internal/backend"
	"github.com/and161185/venue-trace/internal/backend/grpcclient"
	"github.com/and161185/venue-trace/internal/config"
	"github.com/and161185/venue-trace/internal/crypto"
	"github.com/and161185/venue-trace/internal/dailykey"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/keystore"
	"github.com/and161185/venue-trace/internal/metrics"
	"github.com/and161185/venue-trace/internal/migrate"
	"github.com/and161185/venue-trace/internal/payload"
	"github.com/and161185/venue-trace/internal/repository"
	"github.com/and161185/venue-trace/internal/repository/memory"
	"github.com/and161185/venue-trace/internal/repository/postgres"
	"github.com/and161185/venue-trace/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// saltKey stores the sealing salt unsealed next to the sealed records.
const saltKey = "storage_salt"

// stores bundles the device repositories.
type stores struct {
	kv       repository.KeyValueRepository // raw, unsealed
	infos    repository.TraceInfoRepository
	cores    repository.TraceCoreRepository
	daily    repository.DailyKeyRepository
	accessed repository.AccessedTraceRepository
}

// deps are the seams tests replace.
type deps struct {
	logger  func(cfg config.Config) (*zap.Logger, error)
	connect func(ctx context.Context, cfg config.Config) (backend.Backend, func(), error)
	storage func(ctx context.Context, cfg config.Config, log *zap.Logger) (*stores, func(), error)
}

func defaultDeps() deps {
	return deps{logger: newLogger, connect: connectGRPC, storage: openStorage}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Log.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = lvl
	return zc.Build()
}

func connectGRPC(_ context.Context, cfg config.Config) (backend.Backend, func(), error) {
	cc, cl, err := grpcclient.Dial(cfg.Backend.Addr, grpcclient.TLSOptions{
		CACert:   cfg.Backend.CACert,
		Insecure: cfg.Backend.Insecure,
		Plain:    cfg.Backend.Plaintext,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", cfg.Backend.Addr, err)
	}
	return cl, func() { _ = cc.Close() }, nil
}

func openStorage(ctx context.Context, cfg config.Config, log *zap.Logger) (*stores, func(), error) {
	if cfg.Storage.DSN == "" {
		log.Warn("no storage.dsn configured, device state is kept in memory only")
		return &stores{
			kv:       memory.NewKV(),
			infos:    memory.NewTraceInfos(),
			cores:    memory.NewTraceCores(),
			daily:    memory.NewDailyKeys(),
			accessed: memory.NewAccessedTraces(),
		}, func() {}, nil
	}

	if _, err := migrate.Up(ctx, cfg.Storage.DSN, log); err != nil {
		return nil, nil, err
	}
	db, err := postgres.New(ctx, cfg.Storage.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect storage: %w", err)
	}
	return &stores{
		kv:       postgres.NewKVRepo(db),
		infos:    postgres.NewTraceInfoRepo(db),
		cores:    postgres.NewTraceCoreRepo(db),
		daily:    postgres.NewDailyKeyRepo(db),
		accessed: postgres.NewAccessedRepo(db),
	}, db.Close, nil
}

// sealedKV wraps the raw store with a passphrase sealer. The salt is created
// on first use. Without a passphrase the raw store is returned.
func sealedKV(ctx context.Context, kv repository.KeyValueRepository, passphrase string) (repository.KeyValueRepository, error) {
	if passphrase == "" {
		return kv, nil
	}
	salt, err := kv.Restore(ctx, saltKey)
	if errors.Is(err, errs.ErrNotFound) {
		salt = make([]byte, crypto.SaltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrRandomnessUnavailable, err)
		}
		if err := kv.Store(ctx, saltKey, salt); err != nil {
			return nil, fmt.Errorf("store salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load salt: %w", err)
	}
	s, err := crypto.NewPassphraseSealer([]byte(passphrase), salt)
	if err != nil {
		return nil, err
	}
	return repository.NewSealedKV(kv, s), nil
}

// app is the wired device.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	met      *metrics.Metrics

	backend backend.Backend
	keys    *keystore.Store
	daily   *dailykey.Cache
	rotator *dailykey.Rotator
	trace   *service.TraceServiceImpl
	users   *service.RegistrationServiceImpl
	access  *service.AccessServiceImpl
	poller  *service.Poller

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, d deps) (_ *app, err error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.log, err = d.logger(cfg); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.met = metrics.New(a.registry)

	st, closeStorage, err := d.storage(ctx, cfg, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStorage)

	if moved, err := service.MigrateLegacy(ctx, st.kv, service.LegacyTargets{Infos: st.infos, Cores: st.cores, Accessed: st.accessed}); err != nil {
		a.log.Warn("legacy migration failed, will retry on next start", zap.Error(err))
	} else if moved {
		a.log.Info("legacy records migrated")
	}

	kv, err := sealedKV(ctx, st.kv, cfg.Storage.Passphrase)
	if err != nil {
		return nil, err
	}

	be, closeBackend, err := d.connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeBackend)
	a.backend = be

	a.keys = keystore.New(kv, keystore.WithLogger(a.log))
	a.daily, err = dailykey.NewCache(ctx, st.daily, dailykey.WithLogger(a.log), dailykey.WithMetrics(a.met))
	if err != nil {
		return nil, err
	}
	a.rotator = dailykey.NewRotator(a.daily, be, a.log)

	codec := payload.NewCodec(cfg.Device.Type)
	a.trace = service.NewTraceService(a.keys, a.daily, codec, be, st.infos, st.cores,
		service.WithLogger(a.log), service.WithMetrics(a.met))
	a.users = service.NewRegistrationService(a.keys, codec, be, a.trace, a.log)
	a.access = service.NewAccessService(be, st.infos, st.accessed, a.log)
	a.poller = service.NewPoller(a.trace, cfg.Device.PollInterval,
		service.WithRetryDelay(cfg.Device.RetryDelay),
		service.WithPollLogger(a.log),
		service.WithPollMetrics(a.met))
	return a, nil
}

// ensureDailyKey fetches a daily key when none is cached.
func (a *app) ensureDailyKey(ctx context.Context) error {
	if _, ok := a.daily.Newest(); ok {
		return nil
	}
	if _, err := a.rotator.Refresh(ctx); err != nil {
		return fmt.Errorf("no daily key available: %w", err)
	}
	return nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.log != nil {
		_ = a.log.Sync()
	}
}
