// Command pub is a standalone CLI publisher, structured after the
// teacher's cmd/main.go (flag parsing, config load, constructor,
// Start/Shutdown) and internal/server/server.go's HTTP mux and
// signal-based graceful shutdown.
//
// It hosts its own in-process Service rather than rendezvousing with a
// separately-running cmd/sub: real cross-process shared-memory
// discovery is out of this core's scope (spec §1), so pub and sub each
// demonstrate the publisher/subscriber port API and its degradation
// behavior standalone, not genuine inter-process delivery. cmd/demo is
// where a publisher and several subscribers actually exchange samples.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/adred-codev/zcbus/config"
	"github.com/adred-codev/zcbus/internal/advisor"
	"github.com/adred-codev/zcbus/internal/monitoring"
	"github.com/adred-codev/zcbus/internal/service"
	"github.com/adred-codev/zcbus/internal/sweep"
	"github.com/adred-codev/zcbus/internal/types"
)

func main() {
	serviceName := flag.String("service", "zcbus/pub-demo", "service rendezvous name")
	rate := flag.Duration("rate", 10*time.Millisecond, "interval between sends")
	flag.Parse()

	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "pub: maxprocs.Set: %v\n", err)
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{Level: monitoring.LogLevelInfo, Format: monitoring.LogFormatJSON, NodeId: "pub"})
	cfg, err := config.LoadConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	cfg.LogConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	adv := advisor.New(advisor.Thresholds{
		CPUAbortPercent:  cfg.AdvisorCPUAbortPercent,
		MemoryAbortBytes: uint64(cfg.AdvisorMemoryAbortMB) << 20,
		SampleInterval:   cfg.AdvisorSampleInterval,
	})
	go adv.Run(ctx)

	sweepPool := sweep.NewPool(cfg.SweepWorkers, cfg.SweepQueueDepth, cfg.SweepInterval, logger)
	go sweepPool.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	static := types.StaticConfig{
		NumberOfPublishers:   cfg.DefaultNumberOfPublishers,
		NumberOfSubscribers:  cfg.DefaultNumberOfSubscribers,
		NumberOfSamples:      cfg.DefaultNumberOfSamples,
		MaxSliceLen:          1,
		DataSegmentType:      types.Static,
		SubscriberBufferSize: cfg.DefaultSubscriberBuffer,
		EnableSafeOverflow:   cfg.DefaultSafeOverflow,
		Payload:              types.TypeDetail{Size: 8, Alignment: 8, Variant: types.FixedSize},
	}

	svc, err := service.Create(*serviceName, static, sweepPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("create service")
	}
	defer service.Drop(*serviceName)

	node, err := service.NewNode()
	if err != nil {
		logger.Fatal().Err(err).Msg("new node")
	}
	svc.AttachNode(node)

	pub, err := svc.PublisherBuilder(node, service.PublisherOptions{
		MaxLoanedSamples:      int32(cfg.DefaultMaxLoanedSamples),
		UnableToDeliverPolicy: types.DiscardSample,
		BlockTimeout:          cfg.DefaultBlockTimeout,
		RetryGate:             adv.AllowRetry,
		Degradation:           adv.Advise,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("publisher builder")
	}
	logger.Info().Str("publisher_id", pub.ID().String()).Str("service", *serviceName).Msg("publisher ready")

	ticker := time.NewTicker(*rate)
	defer ticker.Stop()

	var i uint64
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			httpServer.Shutdown(shutdownCtx)
			shutdownCancel()
			svc.ReleasePublisher(pub.ID())
			return
		case <-ticker.C:
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, i)
			n, err := pub.SendCopy(buf)
			if err != nil {
				logger.Warn().Err(err).Msg("send failed")
			} else {
				logger.Debug().Uint64("value", i).Int("recipients", n).Msg("sent")
			}
			i++
		}
	}
}
