// Package server assembles the relay: registries, tunnel handler, proxy
// gateway, health endpoints, and shutdown orchestration.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conduit/internal/relay/auth"
	"conduit/internal/relay/conn"
	relayconfig "conduit/internal/relay/config"
	"conduit/internal/relay/gateway"
	"conduit/internal/relay/health"
	"conduit/internal/relay/pending"
	"conduit/internal/relay/ratelimit"
	"conduit/internal/relay/shutdown"
	"conduit/internal/relay/tunnel"
	"conduit/internal/shared/logging"
	"conduit/internal/shared/secrets"
)

// limiterSweepInterval is how often stale rate-limit state is pruned
const limiterSweepInterval = 5 * time.Minute

// Server is the assembled relay process
type Server struct {
	cfg       *relayconfig.Config
	logger    *logging.Logger
	mux       *http.ServeMux
	pendings  *pending.Registry
	registry  *conn.Registry
	limiter   *ratelimit.Limiter
	validator *auth.Validator
	reporter  *health.Reporter
	shutdown  *shutdown.Manager
	tunnels   *tunnel.Handler
	gateway   *gateway.Gateway
	emitter   *health.CloudWatchEmitter
	httpSrv   *http.Server
	cancel    context.CancelFunc
}

// NewServer wires the relay components together
func NewServer(ctx context.Context, cfg *relayconfig.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	secret := cfg.JWTSecret
	if cfg.UseSecretsManager {
		secret = secrets.LoadSigningSecretOrFallback(ctx, cfg.SecretsManagerName, cfg.JWTSecret)
	}

	validator, err := auth.NewValidator(secret)
	if err != nil {
		return nil, err
	}

	metrics := health.InitMetrics(nil)
	pendings := pending.NewRegistry()
	registry := conn.NewRegistry(pendings)
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		LongMax:     cfg.RateLimitLongMax,
		LongWindow:  cfg.RateLimitLongWindow,
		BurstMax:    cfg.RateLimitBurstMax,
		BurstWindow: cfg.RateLimitBurstWindow,
	})

	thresholds := health.DefaultThresholds()
	if cfg.HealthSuccessRateFloor > 0 {
		thresholds.SuccessRateFloor = cfg.HealthSuccessRateFloor
	}
	if cfg.HealthTimeoutRateCeiling > 0 {
		thresholds.TimeoutRateCeiling = cfg.HealthTimeoutRateCeiling
	}
	if cfg.HealthLatencyCeiling > 0 {
		thresholds.LatencyCeiling = cfg.HealthLatencyCeiling
	}
	reporter := health.NewReporter(registry, pendings, thresholds, metrics)

	shutdownMgr := shutdown.NewManager(registry, pendings, cfg.DrainTimeout)

	tunnels := tunnel.NewHandler(registry, pendings, validator,
		shutdownMgr.Accepting, cfg.HeartbeatInterval, metrics)
	gw := gateway.NewGateway(registry, pendings, limiter, validator, reporter, metrics,
		shutdownMgr.Accepting, cfg.RequestTimeout)

	emitter, err := health.NewCloudWatchEmitter(health.LoadCloudWatchConfig(), reporter, nil)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		logger:    logging.NewLogger("relay-server"),
		mux:       http.NewServeMux(),
		pendings:  pendings,
		registry:  registry,
		limiter:   limiter,
		validator: validator,
		reporter:  reporter,
		shutdown:  shutdownMgr,
		tunnels:   tunnels,
		gateway:   gw,
		emitter:   emitter,
	}
	s.setupRoutes()

	s.httpSrv = &http.Server{
		Addr:    cfg.GetListenAddress(),
		Handler: s.mux,
		// No global timeouts: tunnel connections are long-lived and
		// proxy requests are bounded by the 30s pending timeout
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/metrics/details", s.handleMetricsDetails)
	s.mux.HandleFunc("/status/", s.handleUserStatus)
	s.mux.HandleFunc("/tunnel/connect", s.tunnels.HandleConnect)
	s.mux.HandleFunc("/tunnel/", s.gateway.HandleProxy)
}

// ServeHTTP makes the server usable under httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth serves the unauthenticated aggregate health summary
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	summary := s.reporter.Summarize()

	w.Header().Set("Content-Type", "application/json")
	if !summary.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(summary)
}

// handleMetricsDetails serves the authenticated detailed metrics report
func (s *Server) handleMetricsDetails(w http.ResponseWriter, r *http.Request) {
	if _, err := s.validator.UserFromRequest(r); err != nil {
		s.jsonError(w, "missing or invalid credential", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.reporter.Detail())
}

// handleUserStatus serves GET /status/{userId}; callers may only query
// their own tunnel
func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	targetID := strings.TrimPrefix(r.URL.Path, "/status/")
	if targetID == "" || strings.Contains(targetID, "/") {
		s.jsonError(w, "user id required", http.StatusBadRequest)
		return
	}

	callerID, err := s.validator.UserFromRequest(r)
	if err != nil {
		s.jsonError(w, "missing or invalid credential", http.StatusUnauthorized)
		return
	}
	if callerID != targetID {
		s.jsonError(w, "cannot query another user's tunnel", http.StatusForbidden)
		return
	}

	info, connected := s.reporter.UserStatus(targetID)

	resp := map[string]interface{}{
		"user_id":   targetID,
		"connected": connected,
	}
	if connected {
		resp["last_heartbeat"] = info.LastHeartbeat
		resp["connected_at"] = info.ConnectedAt
		resp["pending_count"] = info.PendingCount
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   http.StatusText(code),
		"code":    code,
		"message": message,
	})
}

// Start begins serving and starts background maintenance
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.sweepLoop(ctx)
	s.emitter.Start()

	s.logger.Info("Relay server starting",
		"addr", s.cfg.GetListenAddress(),
		"tls", s.cfg.CertFile != "")

	var err error
	if s.cfg.CertFile != "" {
		err = s.httpSrv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		err = s.httpSrv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// sweepLoop prunes idle rate-limit state
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Sweep()
		}
	}
}

// Stop drains and shuts the relay down: notify clients, wait for
// in-flight requests, force-close, then close the listener
func (s *Server) Stop() shutdown.Report {
	report := s.shutdown.Shutdown()

	s.emitter.Stop()
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("Error closing HTTP listener", err)
	}

	return report
}

// ShutdownPhase exposes the shutdown state machine position
func (s *Server) ShutdownPhase() shutdown.Phase {
	return s.shutdown.Phase()
}
