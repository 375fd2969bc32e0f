package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// callOracle issues one bounded oracle call. Failures are normalized so that
// callers only need errors.Is against the domain sentinels.
func callOracle(ctx context.Context, oracle domain.Oracle, timeout time.Duration, req domain.OracleRequest) (string, error) {
	if oracle == nil {
		return "", fmt.Errorf("oracle not configured: %w", domain.ErrOracleUnavailable)
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	raw, err := oracle.Complete(callCtx, req)
	if err != nil {
		return "", classifyOracleError(ctx, callCtx, err)
	}
	return raw, nil
}

func classifyOracleError(parent, call context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrOracleUnavailable), errors.Is(err, domain.ErrOracleMalformed):
		return err
	case parent.Err() != nil:
		return err
	case errors.Is(call.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%v: %w", err, domain.ErrUpstreamTimeout)
	default:
		return fmt.Errorf("%v: %w", err, domain.ErrOracleUnavailable)
	}
}
