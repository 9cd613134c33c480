package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-summarizer/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"

	MetricsHost = "0.0.0.0"
	MetricsPort = "7300"
)

type Config struct {
	HealthzAddr string
	MetricsAddr string
}

func DefaultConfig() Config {
	return Config{
		HealthzAddr: net.JoinHostPort(HealthzHost, HealthzPort),
		MetricsAddr: net.JoinHostPort(MetricsHost, MetricsPort),
	}
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer

	cfg Config
	log log.Logger
}

func New(cfg Config, logger log.Logger) *Service {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	s := &Service{
		Healthz: &HealthzServer{log: logger},
		Metrics: &MetricsServer{},
		cfg:     cfg,
		log:     logger,
	}
	return s
}

// Start launches both servers and returns once they are listening
func (s *Service) Start(ctx context.Context) error {
	s.log.Info("service starting")

	healthzReady := make(chan net.Addr, 1)
	go func() {
		s.log.Info("starting healthz server", "addr", s.cfg.HealthzAddr)
		if err := s.Healthz.Start(ctx, s.cfg.HealthzAddr, healthzReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error starting healthz server", "err", err)
			metrics.RecordErrorDetails("error starting healthz server", err)
		}
	}()

	metricsReady := make(chan net.Addr, 1)
	go func() {
		s.log.Info("starting metrics server", "addr", s.cfg.MetricsAddr)
		if err := s.Metrics.Start(ctx, s.cfg.MetricsAddr, metricsReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error starting metrics server", "err", err)
			metrics.RecordErrorDetails("error starting metrics server", err)
		}
	}()

	var errs []error
	if addr, ok := <-healthzReady; !ok || addr == nil {
		errs = append(errs, fmt.Errorf("healthz server failed to bind %s", s.cfg.HealthzAddr))
	}
	if addr, ok := <-metricsReady; !ok || addr == nil {
		errs = append(errs, fmt.Errorf("metrics server failed to bind %s", s.cfg.MetricsAddr))
	}
	if err := errors.Join(errs...); err != nil {
		s.Shutdown()
		return err
	}

	s.log.Info("service started",
		"healthz", s.Healthz.Addr().String(),
		"metrics", s.Metrics.Addr().String(),
	)
	return nil
}

func (s *Service) Shutdown() {
	s.log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	s.log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	s.log.Info("metrics stopped")

	s.log.Info("service stopped")
}
