package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidStopLoss      ErrorCode = 103
	ErrCodeInvalidTakeProfit    ErrorCode = 104
	ErrCodeInvalidPeriod        ErrorCode = 105
	ErrCodeInvalidPrice         ErrorCode = 106

	// Data errors (200-299)
	ErrCodeDataNotFound   ErrorCode = 200
	ErrCodeDataUnordered  ErrorCode = 201
	ErrCodeDataParse      ErrorCode = 202
	ErrCodeQueryFailed    ErrorCode = 203
	ErrCodeNoBarsLoaded   ErrorCode = 204
	ErrCodeMissingColumns ErrorCode = 205

	// Strategy errors (400-499)
	ErrCodeStrategyNotSet       ErrorCode = 400
	ErrCodeStrategyInitFailed   ErrorCode = 401
	ErrCodeStrategyRuntimeError ErrorCode = 402
	ErrCodeUnknownStrategy      ErrorCode = 403

	// Broker errors (500-599)
	ErrCodeOrderFailed      ErrorCode = 500
	ErrCodePositionNotFound ErrorCode = 501
	ErrCodePriceUnavailable ErrorCode = 502

	// Backtest errors (600-699)
	ErrCodeEngineNotInitialized ErrorCode = 600
	ErrCodeEngineAlreadyRun     ErrorCode = 601
	ErrCodeStateStoreFailed     ErrorCode = 602
	ErrCodeResultsWriteFailed   ErrorCode = 603
)
