package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem & Test-case errors
// 13000-13999: Execution & Sandbox errors

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

	// Storage errors (10300-10399)
	StorageError    ErrorCode = 10300
	ObjectNotFound  ErrorCode = 10301
	DataPackInvalid ErrorCode = 10302

	// Validation errors (10400-10499)
	ValidationFailed   ErrorCode = 10400
	RequiredFieldEmpty ErrorCode = 10401

	// ========== Problem & Test-case Errors (12000-12999) ==========

	ProblemNotFound      ErrorCode = 12000
	TestCaseNotFound     ErrorCode = 12100
	TestCaseInvalid      ErrorCode = 12102
	WrapperNotFound      ErrorCode = 12200
	LanguageNotSupported ErrorCode = 12300

	// ========== Execution & Sandbox Errors (13000-13999) ==========

	CodeTooLarge       ErrorCode = 13002
	InputTooLarge      ErrorCode = 13003
	SandboxInitFailed  ErrorCode = 13100
	SandboxRunFailed   ErrorCode = 13101
	SandboxPoolBusy    ErrorCode = 13102
	MetaUnparsable     ErrorCode = 13103
	ExecutionCancelled ErrorCode = 13104
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

	// Storage
	StorageError:    "Object storage operation failed",
	ObjectNotFound:  "Object not found in storage",
	DataPackInvalid: "Test data pack is invalid",

	// Validation
	ValidationFailed:   "Validation failed",
	RequiredFieldEmpty: "Required field is empty",

	// Problem & Test-case
	ProblemNotFound:      "Problem not found",
	TestCaseNotFound:     "Test case not found",
	TestCaseInvalid:      "Invalid test case format",
	WrapperNotFound:      "Execution wrapper not found",
	LanguageNotSupported: "Programming language not supported",

	// Execution & Sandbox
	CodeTooLarge:       "Code is too large",
	InputTooLarge:      "Custom input is too large",
	SandboxInitFailed:  "Sandbox initialization failed",
	SandboxRunFailed:   "Sandbox execution failed",
	SandboxPoolBusy:    "All sandboxes are busy, please try again later",
	MetaUnparsable:     "Sandbox meta file is unparsable",
	ExecutionCancelled: "Execution was cancelled",
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
	case c == NotFound, c == ProblemNotFound, c == TestCaseNotFound, c == RecordNotFound:
		return 404
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == SandboxPoolBusy:
		return 503
	case c >= 10400 && c < 10500:
		return 400
	case c == InvalidParams, c == LanguageNotSupported, c == CodeTooLarge, c == InputTooLarge:
		return 400
	default:
		return 500
	}
}
