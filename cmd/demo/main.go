// Command demo runs one publisher Node and several subscriber Nodes as
// goroutines inside a single process against one Service, the way
// go-server/pkg/websocket/hub.go drives one Hub from several
// register/unregister/broadcast goroutines. It is the primary,
// fully-working demonstration of the publish/subscribe core: steady
// delivery, a subscriber disconnecting mid-stream, and a simulated dead
// Node being swept without ever blocking the publisher.
//
// Real cross-process rendezvous is out of this core's scope (spec §1);
// cmd/pub and cmd/sub show the same API from a single-process CLI
// angle instead of claiming to talk to each other.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/adred-codev/zcbus/config"
	"github.com/adred-codev/zcbus/internal/advisor"
	"github.com/adred-codev/zcbus/internal/monitoring"
	"github.com/adred-codev/zcbus/internal/service"
	"github.com/adred-codev/zcbus/internal/sweep"
	"github.com/adred-codev/zcbus/internal/types"
)

func main() {
	subscriberCount := flag.Int("subscribers", 4, "number of subscriber Nodes to run")
	sendCount := flag.Int("sends", 200, "number of samples the publisher sends before exiting")
	killAfter := flag.Int("kill-after", 50, "send index at which one subscriber Node is marked dead")
	flag.Parse()

	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "demo: maxprocs.Set: %v\n", err)
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{Level: monitoring.LogLevelInfo, Format: monitoring.LogFormatPretty, NodeId: "demo"})

	cfg, err := config.LoadConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	cfg.LogConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("received shutdown signal")
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

	svc, err := service.Create("zcbus/demo", static, sweepPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("create service")
	}
	defer service.Drop("zcbus/demo")

	pubNode, err := service.NewNode()
	if err != nil {
		logger.Fatal().Err(err).Msg("new publisher node")
	}
	svc.AttachNode(pubNode)

	pub, err := svc.PublisherBuilder(pubNode, service.PublisherOptions{
		MaxLoanedSamples:      int32(cfg.DefaultMaxLoanedSamples),
		UnableToDeliverPolicy: types.DiscardSample,
		BlockTimeout:          cfg.DefaultBlockTimeout,
		RetryGate:             adv.AllowRetry,
		Degradation:           adv.Advise,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("publisher builder")
	}

	var wg sync.WaitGroup
	var nodes []*service.Node
	var killTarget types.SubscriberId
	var killNode *service.Node
	killSet := false

	for i := 0; i < *subscriberCount; i++ {
		subNode, err := service.NewNode()
		if err != nil {
			logger.Fatal().Err(err).Msg("new subscriber node")
		}
		svc.AttachNode(subNode)
		nodes = append(nodes, subNode)

		sub, err := svc.SubscriberBuilder(subNode, cfg.DefaultSubscriberBuffer, 0)
		if err != nil {
			logger.Fatal().Err(err).Msg("subscriber builder")
		}
		if !killSet && i == *subscriberCount-1 {
			killTarget = sub.ID()
			killNode = subNode
			killSet = true
		}

		wg.Add(1)
		go func(i int, node *service.Node, subID types.SubscriberId) {
			defer wg.Done()
			received := 0
			for ctx.Err() == nil {
				recv, err := sub.Receive()
				if err != nil {
					logger.Warn().Err(err).Int("subscriber", i).Msg("receive error, stopping")
					return
				}
				if recv == nil {
					time.Sleep(time.Millisecond)
					continue
				}
				value := binary.LittleEndian.Uint64(recv.Payload())
				recv.Release()
				received++
				if received%50 == 0 {
					logger.Debug().Int("subscriber", i).Uint64("value", value).Int("received", received).Msg("progress")
				}
			}
		}(i, subNode, sub.ID())
	}

	for i := 0; i < *sendCount && ctx.Err() == nil; i++ {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(i))
		if _, err := pub.SendCopy(buf); err != nil {
			logger.Warn().Err(err).Int("send_index", i).Msg("send failed")
		}

		if i == *killAfter && killNode != nil {
			logger.Info().Str("subscriber", killTarget.String()).Msg("simulating node death")
			killNode.MarkDead()
			svc.DetachNode(killNode)
		}

		time.Sleep(time.Millisecond)
	}

	logger.Info().Msg("publisher finished sending, shutting down")
	cancel()
	for _, n := range nodes {
		n.MarkDead()
	}
	wg.Wait()
	logger.Info().Int64("sweep_dropped_tasks", sweepPool.Dropped()).Msg("demo complete")
}
