// Command sub is a standalone CLI subscriber, the counterpart to
// cmd/pub. Like cmd/pub it hosts its own in-process Service: see
// cmd/pub's doc comment for why these two binaries do not actually
// exchange samples with each other.
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
	serviceName := flag.String("service", "zcbus/sub-demo", "service rendezvous name")
	bufferSize := flag.Int("buffer", 16, "subscriber buffer size")
	flag.Parse()

	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "sub: maxprocs.Set: %v\n", err)
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{Level: monitoring.LogLevelInfo, Format: monitoring.LogFormatJSON, NodeId: "sub"})
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

	adv := advisor.New(advisor.DefaultThresholds())
	go adv.Run(ctx)

	sweepPool := sweep.NewPool(cfg.SweepWorkers, cfg.SweepQueueDepth, cfg.SweepInterval, logger)
	go sweepPool.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
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

	sub, err := svc.SubscriberBuilder(node, *bufferSize, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("subscriber builder")
	}
	logger.Info().Str("subscriber_id", sub.ID().String()).Str("service", *serviceName).Msg("subscriber ready")

	received := uint64(0)
	for ctx.Err() == nil {
		recv, err := sub.Receive()
		if err != nil {
			logger.Warn().Err(err).Msg("receive error")
			break
		}
		if recv == nil {
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}
		value := binary.LittleEndian.Uint64(recv.Payload())
		recv.Release()
		received++
		logger.Debug().Uint64("value", value).Uint64("received", received).Msg("received")
	}

	logger.Info().Uint64("total_received", received).Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	httpServer.Shutdown(shutdownCtx)
	shutdownCancel()
	svc.ReleaseSubscriber(sub.ID())
}
