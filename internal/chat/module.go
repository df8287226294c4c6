package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/storeguard/internal/core"
	"github.com/flemzord/storeguard/internal/cron"
	"github.com/flemzord/storeguard/internal/provider"
	"github.com/flemzord/storeguard/internal/quota"
	"github.com/flemzord/storeguard/internal/security"
	"github.com/flemzord/storeguard/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// ModuleID is the guard.chat module ID.
const ModuleID = "guard.chat"

// Service names registered by the module.
const (
	ServiceName        = "chat.gateway"
	LimiterServiceName = "security.ratelimiter"
	QuotaServiceName   = "quota.tracker"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Module       = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
	_ core.Reloader     = (*Module)(nil)
)

// Module owns the chat pipeline and its shared state: the rate limiter,
// the security event log, the quota tracker and the provider chain.
type Module struct {
	config  Config
	appCtx  *core.AppContext
	logger  *slog.Logger
	metrics *telemetry.Metrics

	gateway   *Gateway
	events    *security.SecurityEventLog
	tracker   *quota.Tracker
	limiter   *security.RateLimiter
	sink      io.Closer
	oracle    bool
	chain     *provider.Chain
	scheduler *cron.Scheduler
	cancel    context.CancelFunc
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Module{config: defaultConfig()} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger
	if metrics, ok := core.ServiceAs[*telemetry.Metrics](ctx, telemetry.MetricsServiceName); ok {
		m.metrics = metrics
	}

	settings, err := m.config.settings()
	if err != nil {
		return fmt.Errorf("%s: %w", ModuleID, err)
	}

	if err := m.provisionEvents(ctx); err != nil {
		return err
	}
	if err := m.provisionQuota(ctx); err != nil {
		return err
	}
	m.limiter = security.NewRateLimiter()

	opts := Options{
		Limiter:  m.limiter,
		Events:   m.events,
		Quota:    m.tracker,
		Settings: settings,
		Logger:   m.logger,
	}
	if m.metrics != nil {
		opts.Recorder = m.metrics
	}
	gw, err := NewGateway(opts)
	if err != nil {
		return fmt.Errorf("%s: %w", ModuleID, err)
	}
	m.gateway = gw

	ctx.RegisterService(ServiceName, gw)
	ctx.RegisterService(security.EventLogServiceName, m.events)
	ctx.RegisterService(LimiterServiceName, m.limiter)
	ctx.RegisterService(QuotaServiceName, m.tracker)
	return nil
}

func (m *Module) provisionEvents(ctx *core.AppContext) error {
	cfg := security.EventLogConfig{
		Capacity: m.config.Events.Capacity,
		Logger:   m.logger,
	}
	if r, ok := core.ServiceAs[*security.Redactor](ctx, security.RedactorServiceName); ok {
		cfg.Redactor = r
	}
	if m.metrics != nil {
		cfg.OnEvent = m.metrics.ObserveEvent
	}
	if path := m.config.Events.Sink; path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(ctx.DataDir, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("%s: creating event sink directory: %w", ModuleID, err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("%s: opening event sink: %w", ModuleID, err)
		}
		cfg.Writer = f
		m.sink = f
	}
	m.events = security.NewSecurityEventLog(cfg)
	return nil
}

func (m *Module) provisionQuota(ctx *core.AppContext) error {
	cfg := quota.TrackerConfig{
		Limits:        m.config.Quota.Limits,
		OracleTimeout: m.config.Quota.Oracle.Timeout,
		Logger:        m.logger,
	}
	if pc := m.config.Quota.Oracle.Prometheus; pc != nil {
		oracle, err := quota.NewPrometheusOracle(*pc)
		if err != nil {
			return fmt.Errorf("%s: %w", ModuleID, err)
		}
		cfg.Oracle = oracle
		m.oracle = true
		if pc.BearerToken != "" {
			if store, ok := core.ServiceAs[*security.CredentialStore](ctx, security.CredentialServiceName); ok {
				store.Set(ModuleID+".prometheus_token", pc.BearerToken)
			}
		}
	}
	m.tracker = quota.NewTracker(cfg)
	if m.metrics != nil {
		m.metrics.WatchQuota(m.tracker.Stats)
	}
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return fmt.Errorf("%s: %w", ModuleID, err)
	}
	return nil
}

// Start implements core.Starter. Providers are resolved here rather than
// in Provision because provider modules provision after this one.
func (m *Module) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if entries := m.resolveProviders(); len(entries) > 0 {
		opts := []provider.ChainOption{provider.WithLogger(m.logger)}
		if m.metrics != nil {
			opts = append(opts, provider.WithObserver(m.metrics.ObserveProvider))
		}
		chain, err := provider.NewChain(entries, opts...)
		if err != nil {
			cancel()
			return fmt.Errorf("%s: %w", ModuleID, err)
		}
		chain.Start(ctx)
		m.chain = chain
		m.gateway.SetUpstream(chain)
		m.logger.Info("provider chain ready", "providers", chain.Len())
	} else {
		m.logger.Warn("no provider available, answering from the fallback table")
	}

	m.scheduler = cron.NewScheduler(m.logger)
	jobs := []cron.Job{
		&cron.SweepJob{
			Label:        "ratelimit",
			Target:       m.limiter,
			MaxAge:       m.config.Jobs.SweepGrace,
			Logger:       m.logger,
			ScheduleExpr: m.config.Jobs.SweepSchedule,
		},
		&cron.SweepJob{
			Label:        "activity",
			Target:       m.gateway.Activity(),
			MaxAge:       m.config.Jobs.ActivityIdle,
			Logger:       m.logger,
			ScheduleExpr: m.config.Jobs.SweepSchedule,
		},
	}
	if m.oracle {
		jobs = append(jobs, &cron.UsageReconcileJob{
			Tracker:      m.tracker,
			Logger:       m.logger,
			ScheduleExpr: m.config.Jobs.ReconcileSchedule,
		})
	}
	for _, j := range jobs {
		if err := m.scheduler.RegisterJob(j); err != nil {
			cancel()
			return fmt.Errorf("%s: %w", ModuleID, err)
		}
	}
	if err := m.scheduler.Start(); err != nil {
		cancel()
		return fmt.Errorf("%s: %w", ModuleID, err)
	}
	return nil
}

// resolveProviders looks up the configured provider services in order.
// Provider modules without credentials do not register and are skipped.
func (m *Module) resolveProviders() []provider.ChainEntry {
	var entries []provider.ChainEntry
	for _, id := range m.config.Providers {
		svc, ok := m.appCtx.Service(id)
		if !ok {
			m.logger.Debug("provider not registered, skipping", "provider", id)
			continue
		}
		p, ok := svc.(provider.Provider)
		if !ok {
			m.logger.Warn("service is not a provider, skipping", "provider", id)
			continue
		}
		entries = append(entries, provider.ChainEntry{
			Name:     core.ModuleID(id).Name(),
			Provider: p,
			Health:   m.config.ProviderHealth,
		})
	}
	return entries
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	var errs []error
	if m.scheduler != nil {
		errs = append(errs, m.scheduler.Stop(ctx))
	}
	if m.chain != nil {
		m.chain.Stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.sink != nil {
		errs = append(errs, m.sink.Close())
	}
	return errors.Join(errs...)
}

// Reload implements core.Reloader. Rate limits, content and behavior
// thresholds, quota limits, the catalog and the upstream timeout apply
// immediately; providers, the oracle, the event log and job schedules
// need a restart.
func (m *Module) Reload(ctx *core.AppContext) error {
	cfg := defaultConfig()
	if node, ok := ctx.ModuleConfig(ModuleID); ok {
		if err := node.Decode(&cfg); err != nil {
			return fmt.Errorf("%s: decoding config: %w", ModuleID, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("%s: %w", ModuleID, err)
	}
	settings, err := cfg.settings()
	if err != nil {
		return fmt.Errorf("%s: %w", ModuleID, err)
	}
	if err := m.gateway.SetSettings(settings); err != nil {
		return fmt.Errorf("%s: %w", ModuleID, err)
	}
	m.tracker.SetLimits(cfg.Quota.Limits)

	// Fields that need a restart keep their running values.
	cfg.Providers = m.config.Providers
	cfg.ProviderHealth = m.config.ProviderHealth
	cfg.Quota.Oracle = m.config.Quota.Oracle
	cfg.Events = m.config.Events
	cfg.Jobs = m.config.Jobs
	m.config = cfg

	m.logger.Info("configuration reloaded")
	return nil
}

// Gateway returns the pipeline. Nil before Provision.
func (m *Module) Gateway() *Gateway { return m.gateway }
