// Command bius-zoned-ramdisk serves a host-managed zoned RAM-backed
// bius device, exposing its I/O metrics over Prometheus.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snu-csl/go-bius"
	"github.com/snu-csl/go-bius/backend"
	"github.com/snu-csl/go-bius/backend/promobs"
	"github.com/snu-csl/go-bius/internal/logging"
)

func main() {
	var (
		sizeBytes   = flag.Int64("size", 32<<30, "Total zoned device size in bytes")
		zoneSize    = flag.Int64("zone-size", 32<<20, "Zone size in bytes")
		maxOpen     = flag.Uint("max-open-zones", 32, "Maximum concurrently open zones")
		maxActive   = flag.Uint("max-active-zones", 32, "Maximum concurrently active zones")
		verbose     = flag.Bool("v", false, "Verbose output")
		metricsAddr = flag.String("metrics-addr", ":9122", "Address to serve /metrics on")
	)
	flag.Parse()

	numZones := uint32(*sizeBytes / *zoneSize)
	openLimit := uint32(*maxOpen)
	if openLimit > numZones {
		openLimit = numZones
	}
	activeLimit := uint32(*maxActive)
	if activeLimit > numZones {
		activeLimit = numZones
	}

	zoned := backend.NewZonedMemory(*sizeBytes)
	defer zoned.Close()

	params := bius.DefaultParams(zoned)
	params.DiskName = "zoned-ramdisk"
	params.NumQueues = 4
	params.EnableZoned = true
	params.ZoneSizeBytes = uint64(*zoneSize)
	params.MaxOpenZones = openLimit
	params.MaxActiveZones = activeLimit

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	reg := prometheus.NewRegistry()
	observer := promobs.New(reg, params.DiskName)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device, err := bius.CreateAndServe(ctx, params, &bius.Options{Logger: logger, Observer: observer})
	if err != nil {
		log.Fatalf("failed to create device: %v", err)
	}

	info := device.Info()
	fmt.Printf("zoned device created: %s (id=%d, size=%d, zone_size=%d)\n", info.DiskName, info.ID, info.Size, *zoneSize)
	fmt.Printf("metrics available at http://%s/metrics\n", *metricsAddr)
	fmt.Println("press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	if err := bius.StopAndDelete(context.Background(), device); err != nil {
		logger.Error("error stopping device", "error", err)
		os.Exit(1)
	}
	logger.Info("device stopped")
}
