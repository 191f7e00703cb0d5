// Command tracecore-agent is the standalone process that consumes
// perf_event_open-sourced CPU events and forwards them to a remote
// collector, adapted from InfraSight_gpu's cmd/main.go signal-handling
// and component-wiring shape. The GPU-side components (SlotPool,
// CommandBufferTracker, SubmissionCompleter) are a library consumed by
// the Vulkan layer that embeds tracecore; that layer, and the
// VulkanDispatch/CaptureState/Clock collaborators it supplies, live
// outside this repo (spec.md §6), so this binary wires only the
// CPU-event path: perf sources → DelayedEventProcessor → transport.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/nullsrc/tracecore/internal/clock"
	"github.com/nullsrc/tracecore/internal/config"
	"github.com/nullsrc/tracecore/internal/delayed"
	"github.com/nullsrc/tracecore/internal/eventmerger"
	"github.com/nullsrc/tracecore/internal/faults"
	"github.com/nullsrc/tracecore/internal/metrics"
	"github.com/nullsrc/tracecore/internal/perfsource"
	"github.com/nullsrc/tracecore/internal/transport"
	"github.com/nullsrc/tracecore/pkg/logutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	logutil.InitLogger()

	logger := logutil.GetLogger()
	defer logger.Sync()

	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigch
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	cfg := config.LoadConfig(pflag.CommandLine)

	registry := prometheus.NewRegistry()
	met := metrics.NewCollectors(registry)
	counters := &faults.Counters{}

	go serveMetrics(cfg.MetricsAddress, registry, logger)

	if err := rlimit.RemoveMemlock(); err != nil {
		logger.Fatal("failed to remove memlock rlimit", zap.Error(err))
	}

	clk := clock.NewSystem()
	processor := delayed.New(cfg.SafetyDelay, counters, met)

	var sources []*perfsource.Source
	for _, pin := range cfg.PerfMapPins {
		m, err := ebpf.LoadPinnedMap(pin, nil)
		if err != nil {
			logger.Error("failed to load pinned perf map", zap.String("pin", pin), zap.Error(err))
			continue
		}
		src, err := perfsource.Open(eventmerger.SourceID(m.FD()), m, 4096)
		if err != nil {
			logger.Error("failed to open perf source", zap.String("pin", pin), zap.Error(err))
			m.Close()
			continue
		}
		logger.Info("perf source opened", zap.String("pin", pin))
		sources = append(sources, src)
		go src.Run(ctx, processor)
	}

	client, err := transport.NewClient(cfg.GRPCAddress, cfg.GRPCPort, cfg.NodeName)
	if err != nil {
		logger.Fatal("failed to create transport client", zap.Error(err))
	}

	emitVisitor := &emitterVisitor{client: client}
	processor.AddVisitor(emitVisitor)

	ticker := time.NewTicker(cfg.CompleteSubmissionsInterval)
	defer ticker.Stop()

runLoop:
	for {
		select {
		case <-ctx.Done():
			break runLoop
		case <-ticker.C:
			processor.ProcessOld(clk.MonotonicNs())
		}
	}

	processor.ProcessAll()

	var shutdownErr error
	for _, src := range sources {
		shutdownErr = multierr.Append(shutdownErr, src.Close())
	}
	shutdownErr = multierr.Append(shutdownErr, client.Close())
	if shutdownErr != nil {
		logger.Error("errors during shutdown", zap.Error(shutdownErr))
	}

	logger.Info("tracecore-agent stopped",
		zap.Uint64("instrumentation_drops", counters.InstrumentationDrops()),
		zap.Uint64("out_of_order_discards", counters.OutOfOrderDiscards()))
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger.Info("serving metrics", zap.String("address", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}

// emitterVisitor interns a "perf_event_<tag mod 10>" string with the
// transport client for every decoded perf event; it writes no record.
// It exists only so the CPU-event
// path is end-to-end runnable in this binary; the GPU submission
// records are produced and emitted separately by SubmissionCompleter
// inside whatever embeds the cbtracker/submission library.
type emitterVisitor struct {
	client *transport.Client
}

func (v *emitterVisitor) VisitEvent(source eventmerger.SourceID, event eventmerger.Event) {
	raw, ok := event.Payload.(perfsource.RawRecord)
	if !ok {
		return
	}
	v.client.InternString(perfEventTag(raw.Tag))
}

func perfEventTag(tag uint32) string {
	return "perf_event_" + string(rune('0'+tag%10))
}
