package core

import (
	"context"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/cockroachdb/errors"

	"github.com/datachainlab/substrate-bridge-relayer/log"
)

var (
	rtyAttNum = uint(5)
	rtyAtt    = retry.Attempts(rtyAttNum)
	rtyDel    = retry.Delay(time.Millisecond * 400)
	rtyErr    = retry.LastErrorOnly(true)
)

// reconnectable is satisfied by both pipeline client interfaces.
type reconnectable interface {
	Reconnect(ctx context.Context) error
}

func reconnectClient(ctx context.Context, logger *log.RelayLogger, name string, client reconnectable) error {
	return retry.Do(func() error {
		return client.Reconnect(ctx)
	}, rtyAtt, rtyDel, rtyErr, retry.Context(ctx), retry.OnRetry(func(n uint, err error) {
		logger.Info("retrying to reconnect",
			"client", name,
			"try", n+1,
			"try_limit", rtyAttNum,
			"error", err.Error(),
		)
	}))
}

func reconnectFailedClient(
	ctx context.Context,
	logger *log.RelayLogger,
	pipeline FinalityPipeline,
	failed FailedClient,
	source SourceClient,
	target TargetClient,
) error {
	if failed == FailedClientSource || failed == FailedClientBoth {
		if err := reconnectClient(ctx, logger, pipeline.SourceName, source); err != nil {
			return errors.Wrapf(err, "failed to reconnect to %s", pipeline.SourceName)
		}
	}
	if failed == FailedClientTarget || failed == FailedClientBoth {
		if err := reconnectClient(ctx, logger, pipeline.TargetName, target); err != nil {
			return errors.Wrapf(err, "failed to reconnect to %s", pipeline.TargetName)
		}
	}
	return nil
}

// RunFinalityLoop supervises a finality sync loop, reconnecting the failed
// side and restarting the loop whenever it exits with a client failure. It
// returns nil once the context is cancelled.
func RunFinalityLoop(
	ctx context.Context,
	pipeline FinalityPipeline,
	source SourceClient,
	target TargetClient,
	params FinalitySyncParams,
	metrics *SyncLoopMetrics,
) error {
	logger := log.GetLogger().WithChainPair(pipeline.SourceName, pipeline.TargetName)
	logger.Info("starting finality sync loop",
		"tick", params.Tick.String(),
		"only_mandatory_headers", params.OnlyMandatoryHeaders,
	)

	for {
		err := RunUntilConnectionLost(ctx, pipeline, source, target, params, metrics)
		if err == nil {
			return nil
		}

		var failed FailedClient
		if !errors.As(err, &failed) {
			return err
		}
		logger.Error("finality sync loop exited", failed)
		if rerr := reconnectFailedClient(ctx, logger, pipeline, failed, source, target); rerr != nil {
			return rerr
		}
	}
}
