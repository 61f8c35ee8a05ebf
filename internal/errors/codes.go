package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig    ErrorCode = "invalid_configuration"
	ErrReadConfig       ErrorCode = "read_config_failed"
	ErrBindFlags        ErrorCode = "bind_flags_failed"
	ErrInvalidFrequency ErrorCode = "invalid_frequency"
	ErrWatchConfig      ErrorCode = "watch_config_failed"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Device errors
	ErrDeviceInit        ErrorCode = "device_init_failed"
	ErrDeviceRead        ErrorCode = "device_read_failed"
	ErrDeviceNotReady    ErrorCode = "device_not_configured"
	ErrDeviceUnsupported ErrorCode = "device_mode_unsupported"

	// Publishing errors
	ErrPublisherClosed ErrorCode = "publisher_closed"
	ErrSinkConnect     ErrorCode = "sink_connect_failed"
	ErrSinkSend        ErrorCode = "sink_send_failed"

	// Operation errors
	ErrTimeout      ErrorCode = "operation_timeout"
	ErrMainLoop     ErrorCode = "main_loop_failed"
	ErrServeAPI     ErrorCode = "serve_api_failed"
	ErrInitMetrics  ErrorCode = "init_metrics_failed"
	ErrCloseMetrics ErrorCode = "close_metrics_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrAlreadyRunning:    "Another instance is already running",
	ErrInvalidConfig:     "Invalid configuration",
	ErrReadConfig:        "Failed to read configuration",
	ErrBindFlags:         "Failed to bind flags",
	ErrInvalidFrequency:  "Invalid frequency value",
	ErrWatchConfig:       "Failed to watch configuration",
	ErrInvalidLogLevel:   "Invalid log level",
	ErrInitFailed:        "Initialization failed",
	ErrShutdownFailed:    "Shutdown failed",
	ErrDeviceInit:        "Failed to initialize ADC device",
	ErrDeviceRead:        "Failed to read ADC channel",
	ErrDeviceNotReady:    "ADC channel not configured",
	ErrDeviceUnsupported: "ADC mode not supported",
	ErrPublisherClosed:   "Publisher is closed",
	ErrSinkConnect:       "Failed to connect sink",
	ErrSinkSend:          "Failed to send sample to sink",
	ErrTimeout:           "Operation timed out",
	ErrMainLoop:          "Error in sampling loop",
	ErrServeAPI:          "Failed to serve API",
	ErrInitMetrics:       "Failed to initialize metrics",
	ErrCloseMetrics:      "Failed to close metrics connection",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
