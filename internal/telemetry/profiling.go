package telemetry

import (
	"fmt"

	"github.com/grafana/pyroscope-go"

	"github.com/kgb-bot/kgb/pkg/config"
)

var profilingEnabled bool

// InitProfiling starts Pyroscope continuous profiling when enabled and
// returns a stop function.
func InitProfiling(cfg config.ProfilingConfig, version string) (shutdown func() error, err error) {
	if !cfg.Enabled {
		profilingEnabled = false
		return func() error { return nil }, nil
	}
	profilingEnabled = true

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: instrumentationName,
		ServerAddress:   cfg.Endpoint,
		Tags:            map[string]string{"version": version},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	return profiler.Stop, nil
}

// IsProfilingEnabled reports whether profiling was initialised.
func IsProfilingEnabled() bool {
	return profilingEnabled
}
