package strategy

import (
	"context"

	"github.com/tradebot-lab/helmsman/internal/contentstore"
	"github.com/tradebot-lab/helmsman/internal/logger"
	"github.com/tradebot-lab/helmsman/internal/marketdata"
	"github.com/tradebot-lab/helmsman/internal/version"
	"github.com/tradebot-lab/helmsman/pkg/errors"
	"github.com/tradebot-lab/helmsman/pkg/strategyabi"

	"go.uber.org/zap"
)

// Loader turns strategy references into runnable handles. Each Load gets a
// fresh, isolated runtime; loads of the same reference are independent.
type Loader struct {
	store contentstore.Store
	data  marketdata.Provider
	log   *logger.Logger
}

// NewLoader creates a Loader backed by the given content store and candle
// provider.
func NewLoader(store contentstore.Store, data marketdata.Provider, log *logger.Logger) *Loader {
	return &Loader{
		store: store,
		data:  data,
		log:   log,
	}
}

// Load fetches the module for ref, instantiates it and verifies its ABI
// version against the engine's. The caller owns the returned handle and must
// Close it.
func (l *Loader) Load(ctx context.Context, ref string) (Handle, error) {
	wasmBytes, err := l.store.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	handle, err := newWasmHandle(ctx, wasmBytes, l.data)
	if err != nil {
		return nil, err
	}

	abiVersion, err := handle.callPackedString(ctx, "helmsman_abi_version")
	if err != nil {
		_ = handle.Close(ctx)
		return nil, err
	}

	if err := version.CheckVersionCompatibility(strategyabi.Version, abiVersion); err != nil {
		_ = handle.Close(ctx)
		return nil, errors.Wrapf(errors.ErrCodeVersionMismatch, err,
			"strategy %s was built against ABI %s, engine speaks %s", ref, abiVersion, strategyabi.Version)
	}

	name, err := handle.callPackedString(ctx, "helmsman_name")
	if err != nil {
		_ = handle.Close(ctx)
		return nil, err
	}
	handle.name = name

	l.log.Info("strategy loaded",
		zap.String("ref", ref),
		zap.String("name", name),
		zap.String("abi_version", abiVersion),
	)

	return handle, nil
}
