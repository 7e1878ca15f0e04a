package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/serialtp/ptp-link/pkg/engine"
)

// Keys namespace this protocol's Redis-backed commands, telemetry, and
// received-data channels.
const (
	KeyCommands  = "ptp-link:commands"
	KeyTelemetry = "ptp-link:telemetry"
	KeyData      = "ptp-link:data"
)

// commandPollInterval bounds how long a single BRPop blocks before the
// watch loop rechecks ctx: block, but notice shutdown, rather than an
// unbounded BRPop(0).
const commandPollInterval = 1 * time.Second

// telemetryInterval is how often Stats are pushed to the telemetry hash.
const telemetryInterval = 2 * time.Second

// EngineOps is the subset of *engine.Engine the control surface drives;
// an interface so it can be exercised with a fake in tests.
type EngineOps interface {
	SelectFile(path string) error
	SendFile()
	RequestReverseInterrupt()
	ChoosePort(name string) error
	Shutdown()
	Stats() engine.Snapshot
}

// Surface is the Redis-backed replacement for the graphical shell, a
// thin driver of the engine: it watches the commands
// list and re-issues each Command against the engine, and periodically
// publishes telemetry. The engine's OnPayload callback should be wired
// to PublishPayload so received data reaches KeyData.
type Surface struct {
	redis  *redisClient
	engine EngineOps
	logger *slog.Logger
}

// New connects to addr and returns a Surface driving eng.
func New(addr, password string, db int, eng EngineOps, logger *slog.Logger) (*Surface, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rc, err := newRedisClient(addr, password, db)
	if err != nil {
		return nil, err
	}
	return &Surface{
		redis:  rc,
		engine: eng,
		logger: logger.With("component", "control"),
	}, nil
}

// Close releases the Redis connection.
func (s *Surface) Close() error {
	return s.redis.close()
}

// Run starts the command-watch and telemetry-publish loops in their own
// goroutines and returns immediately; both loops stop when ctx is
// cancelled.
func (s *Surface) Run(ctx context.Context) {
	go s.watchCommands(ctx)
	go s.publishTelemetryLoop(ctx)
}

// watchCommands BRPops the commands list and dispatches each decoded
// Command to the engine.
func (s *Surface) watchCommands(ctx context.Context) {
	s.logger.Info("starting command watcher", "key", KeyCommands)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping command watcher")
			return
		default:
		}

		result, err := s.redis.brPop(ctx, commandPollInterval, KeyCommands)
		if err != nil {
			s.logger.Warn("error receiving command", "error", err)
			continue
		}
		if result == nil {
			continue // poll timeout, recheck ctx
		}

		cmd, err := DecodeCommand([]byte(result[1]))
		if err != nil {
			s.logger.Warn("malformed command envelope", "error", err)
			continue
		}
		s.dispatch(cmd)
	}
}

func (s *Surface) dispatch(cmd Command) {
	switch cmd.Op {
	case OpSelectFile:
		if err := s.engine.SelectFile(cmd.Path); err != nil {
			s.logger.Warn("select_file failed", "path", cmd.Path, "error", err)
		}
	case OpSendFile:
		s.engine.SendFile()
	case OpRequestReverseInterrupt:
		s.engine.RequestReverseInterrupt()
	case OpChoosePort:
		if err := s.engine.ChoosePort(cmd.Port); err != nil {
			s.logger.Warn("choose_port failed", "port", cmd.Port, "error", err)
		}
	case OpShutdown:
		s.engine.Shutdown()
	default:
		s.logger.Warn("unknown command op", "op", cmd.Op)
	}
}

// publishTelemetryLoop periodically pushes the engine's Stats snapshot
// into the telemetry hash, one field per call.
func (s *Surface) publishTelemetryLoop(ctx context.Context) {
	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishTelemetry()
		}
	}
}

func (s *Surface) publishTelemetry() {
	snap := s.engine.Stats()
	if err := s.redis.writeAndPublishInt(KeyTelemetry, "acks-sent", snap.AcksSent); err != nil {
		s.logger.Warn("telemetry publish failed", "field", "acks-sent", "error", err)
	}
	if err := s.redis.writeAndPublishInt(KeyTelemetry, "data-frames-sent", snap.DataFramesSent); err != nil {
		s.logger.Warn("telemetry publish failed", "field", "data-frames-sent", "error", err)
	}
	if err := s.redis.writeAndPublishFloat(KeyTelemetry, "bit-error-rate-pct", snap.ErrorRatePct); err != nil {
		s.logger.Warn("telemetry publish failed", "field", "bit-error-rate-pct", "error", err)
	}
}

// PublishPayload CBOR-encodes a received 512-byte payload and publishes
// it on KeyData, implementing the "payload received" upward contract.
// Wire this as the engine's Options.OnPayload.
func (s *Surface) PublishPayload(payload []byte) {
	raw, err := EncodePayload(payload)
	if err != nil {
		s.logger.Warn("payload encode failed", "error", err)
		return
	}
	if err := s.redis.publish(KeyData, raw); err != nil {
		s.logger.Warn("payload publish failed", "error", err)
	}
}
