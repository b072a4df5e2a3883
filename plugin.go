package telemetry

import (
	"context"

	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

const PluginName = "telemetry"

// Plugin embeds the pipeline into an endure-managed host application
type Plugin struct {
	config    *Config
	logger    *zap.Logger
	pipeline  *Pipeline
	transport *HTTPTransport

	// Lifecycle
	stopCh chan struct{}
	doneCh chan struct{}
}

// Configurer interface for config plugin
type Configurer interface {
	UnmarshalKey(name string, out interface{}) error
	Has(name string) bool
}

// Logger interface for logger plugin
type Logger interface {
	NamedLogger(name string) *zap.Logger
}

// Init initializes the plugin
func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("telemetry_init")

	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	config := &Config{}
	if err := cfg.UnmarshalKey(PluginName, config); err != nil {
		return errors.E(op, err)
	}

	config.InitDefaults()
	if err := config.Validate(); err != nil {
		return errors.E(op, err)
	}

	if !config.Enabled {
		return errors.E(op, errors.Disabled)
	}

	p.config = config
	p.logger = log.NamedLogger(PluginName)

	pipeline, err := NewPipeline(config, p.logger)
	if err != nil {
		return errors.E(op, err)
	}
	if ht, ok := pipeline.transport.(*HTTPTransport); ok {
		p.transport = ht
	}
	p.pipeline = pipeline

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	p.logger.Info("Telemetry pipeline initialized",
		zap.Bool("enabled", config.Enabled),
		zap.Bool("endpoint_configured", config.Endpoint != ""),
		zap.Int("memory_capacity", config.Buffer.MemoryCapacity),
		zap.Int("durable_capacity", config.Buffer.DurableCapacity))

	return nil
}

// Serve starts the plugin
func (p *Plugin) Serve() chan error {
	errCh := make(chan error, 1)

	if p.config == nil {
		errCh <- errors.E("telemetry_serve", "plugin not initialized")
		return errCh
	}

	go func() {
		defer close(p.doneCh)

		p.pipeline.Start()
		p.logger.Info("Telemetry pipeline started")

		<-p.stopCh
		p.logger.Info("Telemetry pipeline stopping")

		ctx, cancel := context.WithTimeout(context.Background(), p.config.Transport.Timeout)
		defer cancel()
		p.pipeline.Stop(ctx)

		if p.transport != nil {
			if err := p.transport.Close(); err != nil {
				p.logger.Error("Error closing transport", zap.Error(err))
			}
		}

		p.logger.Info("Telemetry pipeline stopped")
	}()

	return errCh
}

// Stop stops the plugin
func (p *Plugin) Stop(ctx context.Context) error {
	if p.stopCh != nil {
		close(p.stopCh)
	}

	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		p.logger.Warn("Plugin stop timed out")
		return ctx.Err()
	}
}

// Name returns the plugin name
func (p *Plugin) Name() string {
	return PluginName
}

// RPC returns the RPC interface
func (p *Plugin) RPC() interface{} {
	return NewRPC(p.pipeline, p.logger)
}

// Provides returns the dependencies this plugin provides
func (p *Plugin) Provides() []*dep.Out {
	return []*dep.Out{
		dep.Bind((*Telemeter)(nil), p.Telemetry),
	}
}

// Telemetry returns the pipeline behind the Telemeter interface
func (p *Plugin) Telemetry() Telemeter {
	return p.pipeline
}

// Telemeter is the surface other plugins consume
type Telemeter interface {
	LogDebug(message string, context map[string]any, category Category)
	LogInfo(message string, context map[string]any, category Category)
	LogWarn(message string, context map[string]any, category Category)
	LogError(message string, context map[string]any, category Category)
	FlushNow() *SendResult
	GetDiagnostics() Diagnostics
}
