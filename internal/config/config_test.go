package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/nullsrc/tracecore/internal/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, fs.Parse(nil)) // mark parsed so LoadConfig skips the os.Args fallback

	cfg := config.LoadConfig(fs)

	require.Equal(t, 100*time.Millisecond, cfg.SafetyDelay)
	require.Equal(t, 16384, cfg.SlotPoolCapacity)
	require.Equal(t, "127.0.0.1", cfg.GRPCAddress)
	require.Equal(t, "4317", cfg.GRPCPort)
	require.Equal(t, 16*time.Millisecond, cfg.CompleteSubmissionsInterval)
}

func TestLoadConfigHonorsCommandLineArgs(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()
	os.Args = []string{"tracecore-agent", "--node-name=agent-7", "--grpc-port=9999"}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg := config.LoadConfig(fs)

	require.Equal(t, "agent-7", cfg.NodeName)
	require.Equal(t, "9999", cfg.GRPCPort)
}
