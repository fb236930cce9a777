// Command simulator runs a fake IOPGPS provider backed by a moving fleet,
// so the gateway can be exercised without real trackers.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

type simConfig struct {
	Port       string
	FleetSize  int
	Tick       time.Duration
	TokenTTL   time.Duration
	AppID      string
	AppKey     string
	SpeedLimit float64
}

func envInt(key string, def, min int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= min {
			return n
		}
	}
	return def
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func loadSimConfig() simConfig {
	return simConfig{
		Port:       envString("SIM_PORT", "8090"),
		FleetSize:  envInt("FLEET_SIZE", 10, 1),
		Tick:       time.Duration(envInt("SIM_TICK_SECONDS", 2, 1)) * time.Second,
		TokenTTL:   time.Duration(envInt("SIM_TOKEN_TTL", 3600, 1)) * time.Second,
		AppID:      envString("IOPGPS_APP_ID", "A-TRACKER"),
		AppKey:     envString("IOPGPS_API_KEY", "default-app-key-change-in-production"),
		SpeedLimit: float64(envInt("SIM_SPEED_LIMIT", 80, 1)),
	}
}

// simulate advances the fleet every tick until ctx is done.
func simulate(ctx context.Context, f *fleet, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			f.tick(interval)
		}
	}
}

func main() {
	cfg := loadSimConfig()

	log.WithFields(log.Fields{
		"fleet_size": cfg.FleetSize,
		"port":       cfg.Port,
		"interval":   cfg.Tick,
		"token_ttl":  cfg.TokenTTL,
	}).Info("Starting provider simulator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := newFleet(cfg.FleetSize, cfg.SpeedLimit, time.Now().UnixNano())
	go simulate(ctx, f, cfg.Tick)

	srv := &providerServer{fleet: f, tokens: newTokenStore(cfg.TokenTTL), appID: cfg.AppID, appKey: cfg.AppKey}
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("Simulator stopped")
	}
	log.Info("Simulator stopped")
}
