// Command bius-ramdisk serves a plain (non-zoned) RAM-backed bius
// device until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/snu-csl/go-bius"
	"github.com/snu-csl/go-bius/backend"
	"github.com/snu-csl/go-bius/internal/logging"
)

func main() {
	var (
		sizeStr = flag.String("size", "64M", "Size of the RAM disk (e.g., 64M, 1G)")
		verbose = flag.Bool("v", false, "Verbose output")
		queues  = flag.Int("queues", 1, "Number of worker queues")
		name    = flag.String("name", "", "Disk name (defaults to biusN)")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid size %q: %v", *sizeStr, err)
	}

	mem := backend.NewMemory(size)
	defer mem.Close()

	params := bius.DefaultParams(mem)
	params.NumQueues = *queues
	params.DiskName = *name

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device, err := bius.CreateAndServe(ctx, params, &bius.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to create device", "error", err)
		os.Exit(1)
	}

	info := device.Info()
	fmt.Printf("device created: %s (id=%d, size=%s, queues=%d)\n", info.DiskName, info.ID, formatSize(info.Size), info.NumQueues)
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

func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	numStr := s
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
