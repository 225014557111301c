package profiling

import (
	"fmt"
	"os"

	"order-metrics/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
)

// Start begins continuous profiling when a server address is configured. The returned
// func stops the profiler and is never nil.
func Start(cfg config.ProfilingConfig) (func(), error) {
	if cfg.ServerAddress == "" {
		return func() {}, nil
	}

	hostname, _ := os.Hostname()
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Tags: map[string]string{
			"hostname": hostname,
		},
		Logger: zap.S(),
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return func() {}, fmt.Errorf("pyroscope start failed: %w", err)
	}

	zap.L().Info("Profiling enabled", zap.String("server", cfg.ServerAddress))
	return func() {
		_ = profiler.Stop()
	}, nil
}
