package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

type RelayLogger struct {
	*slog.Logger
}

var (
	relayLogger *RelayLogger
	loggerMu    sync.Mutex
)

func InitLogger(logLevel, format, output string) error {
	var writer io.Writer
	switch output {
	case "stdout":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		return errors.New("invalid log output")
	}
	return InitLoggerWithWriter(logLevel, format, writer)
}

func InitLoggerWithWriter(logLevel, format string, writer io.Writer) error {
	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	handlerOpts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: true,
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(writer, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(writer, handlerOpts)
	default:
		return errors.New("invalid log format")
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	relayLogger = &RelayLogger{slog.New(handler)}
	return nil
}

func GetLogger() *RelayLogger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if relayLogger == nil {
		// library users may not have initialized the logger
		handlerOpts := &slog.HandlerOptions{Level: slog.LevelInfo, AddSource: true}
		relayLogger = &RelayLogger{slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))}
	}
	return relayLogger
}

// log emits a record whose source location points `depth` frames above the
// caller of this method.
func (rl *RelayLogger) log(level slog.Level, depth int, msg string, args ...any) {
	ctx := context.Background()
	if !rl.Logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3+depth, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = rl.Logger.Handler().Handle(ctx, r)
}

func (rl *RelayLogger) Error(msg string, err error, otherArgs ...any) {
	args := append([]any{"error", err.Error()}, otherArgs...)
	rl.log(slog.LevelError, 0, msg, args...)
}

func (rl *RelayLogger) ErrorWithStack(msg string, err error, otherArgs ...any) {
	cError := errors.NewWithDepth(1, err.Error())
	args := append([]any{
		"error", err.Error(),
		"stack", fmt.Sprintf("%+v", cError),
	}, otherArgs...)
	rl.log(slog.LevelError, 0, msg, args...)
}

func (rl *RelayLogger) WithChain(
	chainID string,
) *RelayLogger {
	return &RelayLogger{
		rl.With(
			"chain_id", chainID,
		),
	}
}

func (rl *RelayLogger) WithChainPair(
	srcChainID string,
	dstChainID string,
) *RelayLogger {
	return &RelayLogger{
		rl.With(
			"source_chain_id", srcChainID,
			"destination_chain_id", dstChainID,
		),
	}
}

func (rl *RelayLogger) WithLane(
	srcChainID, dstChainID, laneID string,
) *RelayLogger {
	return &RelayLogger{
		rl.With(
			"source_chain_id", srcChainID,
			"destination_chain_id", dstChainID,
			"lane_id", laneID,
		),
	}
}

func (rl *RelayLogger) WithModule(
	moduleName string,
) *RelayLogger {
	return &RelayLogger{
		rl.With(
			"module", moduleName,
		),
	}
}
