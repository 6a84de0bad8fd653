package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrderIntent   ErrorCode = 102
	ErrCodeInvalidTimeRange     ErrorCode = 103

	// Bot lifecycle errors (200-299)
	ErrCodeBotAlreadyRunning ErrorCode = 200
	ErrCodeBotNotRunning     ErrorCode = 201
	ErrCodeSupervisorClosed  ErrorCode = 202
	ErrCodeStopTimeout       ErrorCode = 203

	// Strategy errors (300-399)
	ErrCodeStrategyNotFound   ErrorCode = 300
	ErrCodeStrategyLoadFailed ErrorCode = 301
	ErrCodeEvaluateFailed     ErrorCode = 302
	ErrCodeVersionMismatch    ErrorCode = 303

	// Order pipeline errors (400-499)
	ErrCodeUnknownSymbol ErrorCode = 400
	ErrCodeOrderRejected ErrorCode = 401
	ErrCodeAuthFailed    ErrorCode = 402

	// Ledger errors (500-599)
	ErrCodeLedgerWriteFailed ErrorCode = 500
	ErrCodeLedgerQueryFailed ErrorCode = 501
	ErrCodeBotConfigNotFound ErrorCode = 502

	// Market data errors (600-699)
	ErrCodeMarketDataFetchFailed ErrorCode = 600
	ErrCodeInvalidProvider       ErrorCode = 601
)
