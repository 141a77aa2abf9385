package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/unstuckgg/voicegate/internal/config"
	"github.com/unstuckgg/voicegate/internal/logger"
	"github.com/unstuckgg/voicegate/internal/observability"
	"github.com/unstuckgg/voicegate/internal/tracing"
	"github.com/unstuckgg/voicegate/pkg/auth"
	"github.com/unstuckgg/voicegate/pkg/gateway"
	"github.com/unstuckgg/voicegate/pkg/maintenance"
	"github.com/unstuckgg/voicegate/pkg/persona"
	"github.com/unstuckgg/voicegate/pkg/pipeline"
	"github.com/unstuckgg/voicegate/pkg/session"
	"github.com/unstuckgg/voicegate/pkg/transcript"
	"github.com/unstuckgg/voicegate/pkg/upstream"
)

// Daemon represents the voicegate daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	personas *persona.Provider
	verifier auth.Verifier
	store    transcript.Store
	sessions *session.Registry
	runner   *pipeline.Runner

	// Services
	gatewayServer *gateway.Server
	maintenance   *maintenance.Service

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	running   bool
	startTime time.Time

	tracingEnabled bool
}

// Status describes the daemon's run state
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// New creates a daemon from a validated configuration
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("voicegate"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		log.Info().Msg("Tracing initialized successfully")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	// Initialize core modules in dependency order
	if err := d.initializeCoreModules(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	// Initialize services
	if err := d.initializeServices(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return d, nil
}

// initializeCoreModules initializes all core modules
func (d *Daemon) initializeCoreModules() error {
	// Audit log lands next to the main log file when one is configured
	if d.config.Logging.File != "" {
		auditPath := filepath.Join(filepath.Dir(d.config.Logging.File), "audit.log")
		if err := observability.InitAuditLogger(auditPath); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
		} else {
			d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
		}
	}

	personas, err := persona.NewProvider(persona.ProviderConfig{
		Path:   d.config.Persona.Path,
		Logger: d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to load persona: %w", err)
	}
	d.personas = personas
	d.logger.Info().Str("persona", personas.Current().Name).Msg("Persona provider initialized")

	if d.config.Auth.Enabled {
		verifier, err := auth.NewJWKSVerifier(d.ctx, auth.JWKSVerifierConfig{
			JWKSURL:  d.config.Auth.JWKSURL,
			Issuer:   d.config.Auth.Issuer,
			Audience: d.config.Auth.Audience,
		}, d.logger.GetZerolog())
		if err != nil {
			return fmt.Errorf("failed to create token verifier: %w", err)
		}
		d.verifier = verifier
		d.logger.Info().Str("jwks_url", d.config.Auth.JWKSURL).Msg("Token verifier initialized")
	}

	openaiClient, err := upstream.NewOpenAIClient(upstream.OpenAIConfig{
		APIKey:    d.config.Upstream.OpenAI.APIKey,
		STTModel:  d.config.Upstream.OpenAI.STTModel,
		ChatModel: d.config.Upstream.OpenAI.ChatModel,
		TTSModel:  d.config.Upstream.OpenAI.TTSModel,
	})
	if err != nil {
		return fmt.Errorf("failed to create openai client: %w", err)
	}

	generator, err := upstream.NewGenerator(upstream.Config{
		Provider: d.config.Upstream.Provider,
		OpenAI: upstream.OpenAIConfig{
			APIKey:    d.config.Upstream.OpenAI.APIKey,
			STTModel:  d.config.Upstream.OpenAI.STTModel,
			ChatModel: d.config.Upstream.OpenAI.ChatModel,
			TTSModel:  d.config.Upstream.OpenAI.TTSModel,
		},
		Anthropic: upstream.AnthropicConfig{
			APIKey: d.config.Upstream.Anthropic.APIKey,
			Model:  d.config.Upstream.Anthropic.Model,
		},
		Sonar: upstream.SonarConfig{
			APIKey:        d.config.Upstream.Sonar.APIKey,
			BaseURL:       d.config.Upstream.Sonar.BaseURL,
			Model:         d.config.Upstream.Sonar.Model,
			SearchContext: d.config.Upstream.Sonar.SearchContext,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create reply generator: %w", err)
	}
	d.logger.Info().Str("provider", d.config.Upstream.Provider).Msg("Upstream clients initialized")

	if d.config.Store.Path != "" {
		store, err := transcript.NewSQLiteStore(d.config.Store.Path, d.logger.GetZerolog())
		if err != nil {
			return fmt.Errorf("failed to open transcript store: %w", err)
		}
		d.store = store
		d.logger.Info().Str("path", d.config.Store.Path).Msg("Transcript store initialized")
	} else {
		d.store = transcript.NopStore{}
	}

	d.sessions = session.NewRegistry()
	d.logger.Info().Msg("Session registry initialized")

	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{
		Transcriber: openaiClient,
		Generator:   generator,
		Synthesizer: openaiClient,
		Store:       d.store,
		Retry: upstream.RetryConfig{
			MaxAttempts:    d.config.Upstream.Retry.MaxAttempts,
			InitialBackoff: time.Duration(d.config.Upstream.Retry.InitialBackoffMs) * time.Millisecond,
		},
		Logger: d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline runner: %w", err)
	}
	d.runner = runner
	d.logger.Info().Msg("Pipeline runner initialized")

	return nil
}

// initializeServices initializes the gateway and maintenance services
func (d *Daemon) initializeServices() error {
	server, err := gateway.NewServer(gateway.Config{
		Addr:              d.config.Server.Addr,
		PingInterval:      time.Duration(d.config.Server.PingIntervalS) * time.Second,
		WriteTimeout:      time.Duration(d.config.Server.WriteTimeoutS) * time.Second,
		ShutdownTimeout:   time.Duration(d.config.Server.ShutdownTimeoutS) * time.Second,
		MessagesPerMinute: d.config.Limits.MessagesPerMinute,
		MaxChunkBytes:     d.config.Limits.MaxChunkBytes,
		MaxBufferBytes:    d.config.Limits.MaxBufferBytes,
		AllowedOrigins:    d.config.Server.AllowedOrigins,
		Sessions:          d.sessions,
		Runner:            d.runner,
		Personas:          d.personas,
		Verifier:          d.verifier,
		Logger:            d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = server

	d.maintenance = maintenance.NewService(d.logger.GetZerolog())

	idleTimeout := time.Duration(d.config.Limits.IdleTimeoutS) * time.Second
	err = d.maintenance.AddJob("sweep_idle_connections", d.config.Store.SweepSchedule, func(context.Context) error {
		d.gatewayServer.SweepIdle(idleTimeout)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule idle sweep: %w", err)
	}

	if d.config.Store.Path != "" {
		retention := time.Duration(d.config.Store.RetentionDays) * 24 * time.Hour
		err = d.maintenance.AddJob("prune_transcripts", d.config.Store.PruneSchedule, func(ctx context.Context) error {
			_, err := d.store.PruneBefore(ctx, time.Now().Add(-retention))
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to schedule transcript prune: %w", err)
		}
	}

	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting voicegate daemon")

	// Watch the persona manifest; a watch failure leaves the boot
	// manifest active
	if err := d.personas.Watch(); err != nil {
		logger.Warn().Err(err).Msg("Failed to watch persona manifest")
	} else if d.config.Persona.Path != "" {
		logger.Info().Str("path", d.config.Persona.Path).Msg("Persona manifest watched")
	}

	// Start gateway server
	if err := d.gatewayServer.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.config.Server.Addr).Msg("Gateway server started")

	// Start maintenance jobs
	d.maintenance.Start()
	logger.Info().Msg("Maintenance service started")

	logger.Info().Msg("Daemon started successfully - all modules active")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping voicegate daemon")

	// Stop maintenance first so no sweep fires mid-shutdown
	d.maintenance.Stop()
	logger.Info().Msg("Maintenance service stopped")

	// Stop gateway server; live connections get close frames and their
	// sessions are released
	if err := d.gatewayServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	// Stop persona watcher
	if err := d.personas.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop persona provider")
	}

	// Cancel context
	d.cancel()

	// Close transcript store after the gateway so in-flight turns land
	if err := d.store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close transcript store")
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	// Close audit logger
	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait waits for the daemon to stop
func (d *Daemon) Wait() {
	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for signal
	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	// Stop daemon
	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetSessionRegistry returns the session registry
func (d *Daemon) GetSessionRegistry() *session.Registry {
	return d.sessions
}

// GetMaintenanceService returns the maintenance service
func (d *Daemon) GetMaintenanceService() *maintenance.Service {
	return d.maintenance
}

// GetPersonaProvider returns the persona provider
func (d *Daemon) GetPersonaProvider() *persona.Provider {
	return d.personas
}
