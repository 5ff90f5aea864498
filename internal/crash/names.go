package crash

// NT status codes for hardware and runtime faults, plus the synthetic codes
// raised to route CRT-level failures through the SEH funnel.
const (
	CodeAccessViolation        = 0xC0000005
	CodeDatatypeMisalignment   = 0x80000002
	CodeBreakpoint             = 0x80000003
	CodeSingleStep             = 0x80000004
	CodeArrayBoundsExceeded    = 0xC000008C
	CodeFltDenormalOperand     = 0xC000008D
	CodeFltDivideByZero        = 0xC000008E
	CodeFltInexactResult       = 0xC000008F
	CodeFltInvalidOperation    = 0xC0000090
	CodeFltOverflow            = 0xC0000091
	CodeFltStackCheck          = 0xC0000092
	CodeFltUnderflow           = 0xC0000093
	CodeIntDivideByZero        = 0xC0000094
	CodeIntOverflow            = 0xC0000095
	CodePrivInstruction        = 0xC0000096
	CodeInPageError            = 0xC0000006
	CodeIllegalInstruction     = 0xC000001D
	CodeNoncontinuable         = 0xC0000025
	CodeInvalidDisposition     = 0xC0000026
	CodeGuardPage              = 0x80000001
	CodeInvalidHandle          = 0xC0000008
	CodeStackOverflow          = 0xC00000FD
	CodeHeapCorruption         = 0xC0000374
	CodeCppException           = 0xE06D7363

	CodeTerminate        = 0xE0000001
	CodeInvalidParameter = 0xE0000002
	CodePureVirtualCall  = 0xE0000003
)

var codeNames = map[uint32]string{
	CodeAccessViolation:      "EXCEPTION_ACCESS_VIOLATION",
	CodeArrayBoundsExceeded:  "EXCEPTION_ARRAY_BOUNDS_EXCEEDED",
	CodeBreakpoint:           "EXCEPTION_BREAKPOINT",
	CodeDatatypeMisalignment: "EXCEPTION_DATATYPE_MISALIGNMENT",
	CodeFltDenormalOperand:   "EXCEPTION_FLT_DENORMAL_OPERAND",
	CodeFltDivideByZero:      "EXCEPTION_FLT_DIVIDE_BY_ZERO",
	CodeFltInexactResult:     "EXCEPTION_FLT_INEXACT_RESULT",
	CodeFltInvalidOperation:  "EXCEPTION_FLT_INVALID_OPERATION",
	CodeFltOverflow:          "EXCEPTION_FLT_OVERFLOW",
	CodeFltStackCheck:        "EXCEPTION_FLT_STACK_CHECK",
	CodeFltUnderflow:         "EXCEPTION_FLT_UNDERFLOW",
	CodeGuardPage:            "EXCEPTION_GUARD_PAGE",
	CodeIllegalInstruction:   "EXCEPTION_ILLEGAL_INSTRUCTION",
	CodeInPageError:          "EXCEPTION_IN_PAGE_ERROR",
	CodeIntDivideByZero:      "EXCEPTION_INT_DIVIDE_BY_ZERO",
	CodeIntOverflow:          "EXCEPTION_INT_OVERFLOW",
	CodeInvalidDisposition:   "EXCEPTION_INVALID_DISPOSITION",
	CodeInvalidHandle:        "EXCEPTION_INVALID_HANDLE",
	CodeNoncontinuable:       "EXCEPTION_NONCONTINUABLE_EXCEPTION",
	CodePrivInstruction:      "EXCEPTION_PRIV_INSTRUCTION",
	CodeSingleStep:           "EXCEPTION_SINGLE_STEP",
	CodeStackOverflow:        "EXCEPTION_STACK_OVERFLOW",
	CodeHeapCorruption:       "STATUS_HEAP_CORRUPTION",
	CodeCppException:         "CPP_EXCEPTION",
	CodeTerminate:            "TERMINATE_HANDLER",
	CodeInvalidParameter:     "INVALID_PARAMETER_HANDLER",
	CodePureVirtualCall:      "PURE_VIRTUAL_CALL",
}

// ExceptionCodeName returns the symbolic name of a fault code, or UNKNOWN.
func ExceptionCodeName(code uint32) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return "UNKNOWN"
}
