package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Challenge module errors
// 13000-13999: Run & Evaluation module errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError  ErrorCode = 10100
	RecordNotFound ErrorCode = 10101

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Storage & queue errors (10400-10499)
	StorageError ErrorCode = 10400
	QueueError   ErrorCode = 10401

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Challenge Module Errors (12000-12999) ==========

	ChallengeNotFound ErrorCode = 12000
	ChallengeInvalid  ErrorCode = 12001

	// Test cases (12100-12199)
	TestCaseInvalid ErrorCode = 12102

	// ========== Run & Evaluation Module Errors (13000-13999) ==========

	// Run (13000-13099)
	RunNotFound          ErrorCode = 13000
	RunCreateFailed      ErrorCode = 13001
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003

	// Judge (13100-13199)
	JudgeQueueFull    ErrorCode = 13100
	JudgeSystemError  ErrorCode = 13101
	CompilationError  ErrorCode = 13102
	RuntimeError      ErrorCode = 13103
	TimeLimitExceeded ErrorCode = 13104
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:  "Database operation failed",
	RecordNotFound: "Record not found in database",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Storage & queue
	StorageError: "Object storage operation failed",
	QueueError:   "Message queue operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Challenge
	ChallengeNotFound: "Challenge not found",
	ChallengeInvalid:  "Invalid challenge definition",
	TestCaseInvalid:   "Invalid test case",

	// Run
	RunNotFound:          "Run not found",
	RunCreateFailed:      "Failed to create run",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",

	// Judge
	JudgeQueueFull:    "Judge queue is full, please try again later",
	JudgeSystemError:  "Judge system error",
	CompilationError:  "Compilation error",
	RuntimeError:      "Runtime error",
	TimeLimitExceeded: "Time limit exceeded",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == RecordNotFound, c == RunNotFound, c == ChallengeNotFound:
		return 404
	case c == TooManyRequests, c == JudgeQueueFull:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == TestCaseInvalid, c == ChallengeInvalid:
		return 400
	case c == CodeTooLarge:
		return 413
	case c == LanguageNotSupported:
		return 422
	default:
		return 500
	}
}
