// Package strategyabi defines the wire contract between the engine and a
// strategy plugin compiled to WebAssembly.
//
// A strategy module must export the following functions:
//
//	malloc(size u32) -> u32              allocate guest memory for host input
//	free(ptr u32)                        release memory returned by malloc
//	helmsman_abi_version() -> u64        packed ABI version string
//	helmsman_name() -> u64               packed strategy name string
//	evaluate(ptr u32, size u32) -> u64   packed EvaluateResponse JSON
//
// A packed u64 encodes a guest memory region as ptr<<32 | length. The
// evaluate input is an EvaluateRequest encoded as JSON and written into
// memory obtained from malloc; the output is an EvaluateResponse encoded as
// JSON. Strategies are pure functions over the candle window they are given
// and must not retain state between evaluate calls.
package strategyabi

import "time"

// Version is the ABI version implemented by this engine. Plugins report the
// version they were compiled against via helmsman_abi_version; major and
// minor components must match.
const Version = "1.0.0"

// Candle is one OHLCV bar handed to the strategy.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// EvaluateRequest is the input to the evaluate export.
type EvaluateRequest struct {
	Symbol  string    `json:"symbol"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Candles []Candle  `json:"candles"`
}

// Row is one point of the evaluation result. Signal is -1 (sell),
// 0 (hold) or 1 (buy); Price is the reference close price for the row.
type Row struct {
	Time   time.Time `json:"time"`
	Signal int       `json:"signal"`
	Price  float64   `json:"price"`
}

// EvaluateResponse is the output of the evaluate export. Exactly one of
// Rows or Error is meaningful: a non-empty Error marks the evaluation as
// failed and is fatal for the calling bot.
type EvaluateResponse struct {
	Rows  []Row  `json:"rows,omitempty"`
	Error string `json:"error,omitempty"`
}

// Pack encodes a guest memory region as a single u64 return value.
func Pack(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}

// Unpack splits a packed u64 into a guest memory pointer and length.
func Unpack(packed uint64) (ptr, size uint32) {
	return uint32(packed >> 32), uint32(packed)
}
