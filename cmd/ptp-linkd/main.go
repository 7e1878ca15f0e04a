package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/serialtp/ptp-link/pkg/control"
	"github.com/serialtp/ptp-link/pkg/engine"
	"github.com/serialtp/ptp-link/pkg/filesource"
	"github.com/serialtp/ptp-link/pkg/serialport"
)

// Configuration flags, declared at package scope.
var (
	serialDevice = flag.String("serial", "/dev/ttyUSB0", "Serial device path")
	baudRate     = flag.Int("baud", 9600, "Serial baud rate")
	redisAddr    = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass    = flag.String("redis-pass", "", "Redis password")
	redisDB      = flag.Int("redis-db", 0, "Redis database number")
	filePath     = flag.String("file", "", "Initial file to select as the source (optional)")
	rewindOnEOF  = flag.Bool("rewind-on-eof", true, "Rewind the file source to the start once exhausted")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting ptp-linkd")
	log.Printf("Serial device: %s", *serialDevice)
	log.Printf("Baud rate: %d", *baudRate)
	log.Printf("Redis address: %s", *redisAddr)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	source, err := filesource.New(*filePath, *rewindOnEOF)
	if err != nil {
		log.Fatalf("Failed to open initial file source: %v", err)
	}
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var eng *engine.Engine
	var ctrl *control.Surface

	adapter, err := serialport.Open(*serialDevice, *baudRate, func(data []byte) {
		if eng != nil {
			eng.OnReadable(data)
		}
	}, logger)
	if err != nil {
		log.Fatalf("Failed to open serial port %s: %v", *serialDevice, err)
	}
	defer adapter.Close()
	log.Printf("Opened serial port %s", *serialDevice)

	eng = engine.New(source, adapter, engine.Options{
		Logger: logger,
		OnPayload: func(payload []byte) {
			if ctrl != nil {
				ctrl.PublishPayload(payload)
			}
		},
	})

	ctrl, err = control.New(*redisAddr, *redisPass, *redisDB, eng, logger)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer ctrl.Close()
	log.Printf("Connected to Redis")

	ctrl.Run(ctx)
	go eng.Run(ctx)

	log.Printf("Engine running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Printf("Shutting down...")
	eng.Shutdown()
	cancel()
}
