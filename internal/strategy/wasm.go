package strategy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/tradebot-lab/helmsman/internal/marketdata"
	"github.com/tradebot-lab/helmsman/internal/types"
	"github.com/tradebot-lab/helmsman/pkg/errors"
	"github.com/tradebot-lab/helmsman/pkg/strategyabi"
)

// wasmHandle runs one strategy module inside its own wazero runtime.
// Evaluate calls are serialized because guest memory is single-threaded.
type wasmHandle struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	module  api.Module
	data    marketdata.Provider
	name    string
	closed  bool
}

// newWasmHandle instantiates the module bytes in a fresh runtime and verifies
// the ABI contract before handing the handle out.
func newWasmHandle(ctx context.Context, wasmBytes []byte, data marketdata.Provider) (*wasmHandle, error) {
	runtime := wazero.NewRuntime(ctx)

	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Wrap(errors.ErrCodeStrategyLoadFailed, "failed to compile strategy module", err)
	}

	// TinyGo reactor modules run their initializers via _initialize, not _start.
	config := wazero.NewModuleConfig().WithStartFunctions("_initialize")

	module, err := runtime.InstantiateModule(ctx, compiled, config)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Wrap(errors.ErrCodeStrategyLoadFailed, "failed to instantiate strategy module", err)
	}

	handle := &wasmHandle{
		runtime: runtime,
		module:  module,
		data:    data,
	}

	for _, export := range []string{"malloc", "free", "helmsman_abi_version", "helmsman_name", "evaluate"} {
		if module.ExportedFunction(export) == nil {
			_ = runtime.Close(ctx)
			return nil, errors.Newf(errors.ErrCodeStrategyLoadFailed, "strategy module does not export %q", export)
		}
	}

	return handle, nil
}

// Name implements Handle.
func (h *wasmHandle) Name() string {
	return h.name
}

// Evaluate implements Handle. It fetches the candle window from the market
// data provider and hands it to the guest's evaluate export as JSON.
func (h *wasmHandle) Evaluate(ctx context.Context, symbol string, start, end time.Time) ([]types.EvaluationRow, error) {
	candles, err := h.data.Candles(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}

	request := strategyabi.EvaluateRequest{
		Symbol:  symbol,
		Start:   start,
		End:     end,
		Candles: make([]strategyabi.Candle, 0, len(candles)),
	}
	for _, c := range candles {
		request.Candles = append(request.Candles, strategyabi.Candle{
			Time:   c.Time,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}

	input, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeEvaluateFailed, "failed to encode evaluate request", err)
	}

	output, err := h.callEvaluate(ctx, input)
	if err != nil {
		return nil, err
	}

	var response strategyabi.EvaluateResponse
	if err := json.Unmarshal(output, &response); err != nil {
		return nil, errors.Wrap(errors.ErrCodeEvaluateFailed, "failed to decode evaluate response", err)
	}

	if response.Error != "" {
		return nil, errors.Newf(errors.ErrCodeEvaluateFailed, "strategy reported error: %s", response.Error)
	}

	rows := make([]types.EvaluationRow, 0, len(response.Rows))
	for _, r := range response.Rows {
		rows = append(rows, types.EvaluationRow{
			Time:   r.Time,
			Signal: types.Signal(r.Signal),
			Price:  r.Price,
		})
	}

	return rows, nil
}

// callEvaluate copies the request into guest memory, invokes evaluate and
// copies the response back out.
func (h *wasmHandle) callEvaluate(ctx context.Context, input []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errors.New(errors.ErrCodeEvaluateFailed, "strategy handle is closed")
	}

	mallocResults, err := h.module.ExportedFunction("malloc").Call(ctx, uint64(len(input)))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeEvaluateFailed, "guest malloc failed", err)
	}

	inputPtr := uint32(mallocResults[0])
	defer func() {
		_, _ = h.module.ExportedFunction("free").Call(ctx, uint64(inputPtr))
	}()

	if !h.module.Memory().Write(inputPtr, input) {
		return nil, errors.New(errors.ErrCodeEvaluateFailed, "evaluate request does not fit in guest memory")
	}

	results, err := h.module.ExportedFunction("evaluate").Call(ctx, uint64(inputPtr), uint64(len(input)))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeEvaluateFailed, "guest evaluate failed", err)
	}

	output, err := h.readPacked(ctx, results[0])
	if err != nil {
		return nil, err
	}

	return output, nil
}

// readPacked copies the guest memory region described by a packed u64 into
// host memory and frees it in the guest.
func (h *wasmHandle) readPacked(ctx context.Context, packed uint64) ([]byte, error) {
	ptr, size := strategyabi.Unpack(packed)

	view, ok := h.module.Memory().Read(ptr, size)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeEvaluateFailed, "guest returned out-of-range memory region ptr=%d size=%d", ptr, size)
	}

	// The view aliases guest memory and is invalidated by the next guest
	// call, so copy before freeing.
	out := make([]byte, len(view))
	copy(out, view)

	_, _ = h.module.ExportedFunction("free").Call(ctx, uint64(ptr))

	return out, nil
}

// callPackedString invokes a nullary export returning a packed string.
func (h *wasmHandle) callPackedString(ctx context.Context, export string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	results, err := h.module.ExportedFunction(export).Call(ctx)
	if err != nil {
		return "", errors.Wrapf(errors.ErrCodeStrategyLoadFailed, err, "guest %s failed", export)
	}

	out, err := h.readPacked(ctx, results[0])
	if err != nil {
		return "", err
	}

	return string(out), nil
}

// Close implements Handle.
func (h *wasmHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	h.closed = true

	if err := h.runtime.Close(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeStrategyLoadFailed, "failed to close strategy runtime", err)
	}

	return nil
}

var _ Handle = (*wasmHandle)(nil)
