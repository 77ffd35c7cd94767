package domain

import (
	"errors"
	"fmt"
)

// Category sentinels — use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("provider error")
)

// Sentinel errors for the orchestration core.
var (
	ErrToolNotFound       = fmt.Errorf("tool not found")
	ErrToolFailure        = fmt.Errorf("tool execution failed")
	ErrToolUnauthorized   = fmt.Errorf("tool not authorized for agent")
	ErrAgentUnavailable   = fmt.Errorf("no agent available")
	ErrManifestMalformed  = fmt.Errorf("manifest malformed")
	ErrDirectiveMalformed = fmt.Errorf("tool directive malformed")
	ErrLedgerDeduction    = fmt.Errorf("ledger deduction failed")
	ErrLedgerWrite        = fmt.Errorf("ledger write failed")
	ErrMemoryUnavailable  = fmt.Errorf("memory store unavailable")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrDecryption         = fmt.Errorf("decryption failed")
	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox boundary")

	// Reasoning engine errors.
	ErrReasoningTransient = fmt.Errorf("reasoning engine transient failure")
	ErrReasoningTerminal  = fmt.Errorf("reasoning engine terminal failure")
	ErrRateLimit          = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid        = fmt.Errorf("authentication failed")

	// Resilience errors.
	ErrRetriesExhausted = fmt.Errorf("retries exhausted")
	ErrCircuitOpen      = fmt.Errorf("circuit open")

	// Mission errors.
	ErrMissionFaulted = fmt.Errorf("mission faulted")
	ErrEmptyStrategy  = fmt.Errorf("strategy has no steps")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Registry.Dispatch")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "directory", "ledger"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsSoftStepError reports whether err is absorbed by the mission loop
// instead of faulting the mission.
func IsSoftStepError(err error) bool {
	return errors.Is(err, ErrAgentUnavailable) || errors.Is(err, ErrDirectiveMalformed)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure        ErrorCode = "TOOL_EXECUTION_FAILED"
	CodeToolUnauthorized   ErrorCode = "TOOL_UNAUTHORIZED"
	CodeAgentUnavailable   ErrorCode = "AGENT_UNAVAILABLE"
	CodeManifestMalformed  ErrorCode = "MANIFEST_MALFORMED"
	CodeDirectiveMalformed ErrorCode = "DIRECTIVE_MALFORMED"
	CodeLedgerDeduction    ErrorCode = "LEDGER_DEDUCTION_FAILED"
	CodeLedgerWrite        ErrorCode = "LEDGER_WRITE"
	CodeMemoryUnavailable  ErrorCode = "MEMORY_UNAVAILABLE"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeDecryption         ErrorCode = "DECRYPTION"
	CodePathOutsideSandbox ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeReasoningTransient ErrorCode = "REASONING_ENGINE_TRANSIENT"
	CodeReasoningTerminal  ErrorCode = "REASONING_ENGINE_TERMINAL"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeRetriesExhausted   ErrorCode = "RETRIES_EXHAUSTED"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	CodeMissionFaulted     ErrorCode = "MISSION_FAULTED"
	CodeEmptyStrategy      ErrorCode = "EMPTY_STRATEGY"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeAgentNotFound   ErrorCode = "AGENT_NOT_FOUND"
	CodeAccountNotFound ErrorCode = "ACCOUNT_NOT_FOUND"
	CodePluginDuplicate ErrorCode = "PLUGIN_DUPLICATE"

	// Category error codes — fallback codes when no subsystem-specific code matches.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrPermissionDenied: CodePermissionDenied,
	ErrInvalidInput:     CodeInvalidInput,
	ErrProviderError:    CodeProviderError,

	ErrToolNotFound:       CodeToolNotFound,
	ErrToolFailure:        CodeToolFailure,
	ErrToolUnauthorized:   CodeToolUnauthorized,
	ErrAgentUnavailable:   CodeAgentUnavailable,
	ErrManifestMalformed:  CodeManifestMalformed,
	ErrDirectiveMalformed: CodeDirectiveMalformed,
	ErrLedgerDeduction:    CodeLedgerDeduction,
	ErrLedgerWrite:        CodeLedgerWrite,
	ErrMemoryUnavailable:  CodeMemoryUnavailable,
	ErrConfigLoad:         CodeConfigLoad,
	ErrDecryption:         CodeDecryption,
	ErrPathOutsideSandbox: CodePathOutsideSandbox,
	ErrReasoningTransient: CodeReasoningTransient,
	ErrReasoningTerminal:  CodeReasoningTerminal,
	ErrRateLimit:          CodeRateLimit,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrRetriesExhausted:   CodeRetriesExhausted,
	ErrCircuitOpen:        CodeCircuitOpen,
	ErrMissionFaulted:     CodeMissionFaulted,
	ErrEmptyStrategy:      CodeEmptyStrategy,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"directory": CodeAgentNotFound,
		"ledger":    CodeAccountNotFound,
		"registry":  CodeToolNotFound,
	},
	ErrDuplicate: {
		"registry": CodePluginDuplicate,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// Most specific first: the mission and retry wrappers carry the cause
	// further down the chain.
	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

var codePriority = []error{
	ErrReasoningTerminal,
	ErrToolUnauthorized,
	ErrToolNotFound,
	ErrToolFailure,
	ErrCircuitOpen,
	ErrRetriesExhausted,
	ErrMissionFaulted,
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
