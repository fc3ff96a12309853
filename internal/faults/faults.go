package faults

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInput            Code = "INPUT_400"
	CodeAuth             Code = "AUTH_403"
	CodeRenderTimeout    Code = "RENDER_TIMEOUT"
	CodeRenderNavigation Code = "RENDER_NAVIGATION_FAILED"
	CodeRenderNoSelector Code = "RENDER_NO_SELECTOR"
	CodeRenderEmpty      Code = "RENDER_EMPTY_RESULT"
	CodeParserNoURL      Code = "PARSER_NO_URL"
	CodeFetchFail        Code = "FETCH_FAIL"
	CodeFetchTooLarge    Code = "FETCH_TOO_LARGE"
	CodeFormatInvalid    Code = "FORMAT_INVALID"
	CodeSolveNoResult    Code = "SOLVE_NO_RESULT"
	CodeSubmitFail       Code = "SUBMIT_FAIL"
	CodeLLMTimeout       Code = "LLM_TIMEOUT"
	CodeLLMInvalid       Code = "LLM_INVALID_RESPONSE"
	CodeTimeBudget       Code = "TIME_BUDGET_EXCEEDED"
	CodeStepLimit        Code = "STEP_LIMIT_EXCEEDED"
	CodeURLCycle         Code = "URL_CYCLE_DETECTED"
	CodeUnexpected       Code = "UNEXPECTED_500"
)

var statusByCode = map[Code]int{
	CodeInput:            http.StatusBadRequest,
	CodeAuth:             http.StatusForbidden,
	CodeRenderTimeout:    http.StatusGatewayTimeout,
	CodeRenderNavigation: http.StatusBadGateway,
	CodeRenderNoSelector: http.StatusInternalServerError,
	CodeRenderEmpty:      http.StatusUnprocessableEntity,
	CodeParserNoURL:      http.StatusUnprocessableEntity,
	CodeFetchFail:        http.StatusBadGateway,
	CodeFetchTooLarge:    http.StatusRequestEntityTooLarge,
	CodeFormatInvalid:    http.StatusUnprocessableEntity,
	CodeSolveNoResult:    http.StatusUnprocessableEntity,
	CodeSubmitFail:       http.StatusBadGateway,
	CodeLLMTimeout:       http.StatusGatewayTimeout,
	CodeLLMInvalid:       http.StatusInternalServerError,
	CodeTimeBudget:       http.StatusRequestTimeout,
	CodeStepLimit:        http.StatusTooManyRequests,
	CodeURLCycle:         http.StatusConflict,
	CodeUnexpected:       http.StatusInternalServerError,
}

var transient = map[Code]bool{
	CodeRenderTimeout:    true,
	CodeRenderNavigation: true,
	CodeFetchFail:        true,
	CodeLLMTimeout:       true,
	CodeSubmitFail:       true,
}

// Fault is an error carrying a stable code. Faults raised inside a chain run are
// terminal for that run only.
type Fault struct {
	Code    Code
	Message string
	Err     error
}

func New(code Code, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, err error) *Fault {
	return &Fault{Code: code, Message: message, Err: err}
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Code, f.Message)
	}
	if f.Message == "" {
		return fmt.Sprintf("%s: %v", f.Code, f.Err)
	}
	return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// CodeOf returns the code of the outermost Fault in err's chain, or
// CodeUnexpected when there is none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return CodeUnexpected
}

func Is(err error, code Code) bool {
	var f *Fault
	for err != nil {
		if !errors.As(err, &f) {
			return false
		}
		if f.Code == code {
			return true
		}
		err = f.Err
	}
	return false
}

func HTTPStatus(code Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func Retryable(err error) bool {
	return transient[CodeOf(err)]
}
