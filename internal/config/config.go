// Package config loads tracecore-agent's runtime configuration from
// flags, environment variables and (optionally) a config file, using the
// same viper/pflag combination as the rest of the retrieved corpus.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration for the capture agent.
type Config struct {
	SafetyDelay                 time.Duration
	SlotPoolCapacity            int
	GRPCAddress                 string
	GRPCPort                    string
	NodeName                    string
	CompleteSubmissionsInterval time.Duration
	PerfMapPins                 []string
	MetricsAddress              string
}

const envPrefix = "TRACECORE"

// LoadConfig defines fs's flags, parses os.Args[1:] against it (unless fs
// has already been parsed, e.g. by a test passing its own args), binds
// viper on top for TRACECORE_-prefixed environment overrides, and
// returns the resolved configuration.
func LoadConfig(fs *pflag.FlagSet) *Config {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.Duration("safety-delay", 100*time.Millisecond, "minimum age an event must reach before dispatch")
	fs.Int("slot-pool-capacity", 16384, "logical GPU timestamp query slots per device")
	fs.String("grpc-address", "127.0.0.1", "capture collector address")
	fs.String("grpc-port", "4317", "capture collector port")
	fs.String("node-name", "localhost", "node identifier attached to emitted records")
	fs.Duration("complete-submissions-interval", 16*time.Millisecond, "SubmissionCompleter poll interval; tracecore-agent uses it as its ProcessOld tick")
	fs.StringSlice("perf-map-pins", nil, "bpffs paths of already-loaded PERF_EVENT_ARRAY maps to attach readers to")
	fs.String("metrics-address", "127.0.0.1:9090", "address to serve /metrics on")

	if !fs.Parsed() {
		_ = fs.Parse(os.Args[1:])
	}

	_ = v.BindPFlags(fs)

	return &Config{
		SafetyDelay:                 v.GetDuration("safety-delay"),
		SlotPoolCapacity:            v.GetInt("slot-pool-capacity"),
		GRPCAddress:                 v.GetString("grpc-address"),
		GRPCPort:                    v.GetString("grpc-port"),
		NodeName:                    v.GetString("node-name"),
		CompleteSubmissionsInterval: v.GetDuration("complete-submissions-interval"),
		PerfMapPins:                 v.GetStringSlice("perf-map-pins"),
		MetricsAddress:              v.GetString("metrics-address"),
	}
}
