package serving

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"chatd/internal/engine"
	"chatd/pkg/types"
)

// Kind tags the variant held by a Result.
type Kind int

const (
	KindError Kind = iota
	KindBuffered
	KindStreamed
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindBuffered:
		return "buffered"
	case KindStreamed:
		return "streamed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Result is the outcome of one chat completion. Exactly one of Error,
// Completion or Stream is set, as selected by Kind.
type Result struct {
	Kind       Kind
	Error      *types.ErrorResponse
	Completion *types.ChatCompletionResponse
	Stream     *Stream
}

// ErrorResult builds a KindError result with the class derived from code.
func ErrorResult(code int, msg string) Result {
	return Result{Kind: KindError, Error: errorBody(code, engine.TypeForStatus(code), msg)}
}

func errorBody(code int, typ, msg string) *types.ErrorResponse {
	return &types.ErrorResponse{Object: "error", Message: msg, Type: typ, Code: code}
}

// errorFromEngine classifies a generation failure.
func errorFromEngine(err error) *types.ErrorResponse {
	if ee, ok := engine.AsError(err); ok {
		return errorBody(ee.Code, ee.Type, ee.Message)
	}
	switch {
	case engine.IsDependencyUnavailable(err):
		return errorBody(http.StatusServiceUnavailable, engine.TypeForStatus(http.StatusServiceUnavailable), err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return errorBody(http.StatusGatewayTimeout, engine.TypeForStatus(http.StatusGatewayTimeout), "generation timed out")
	default:
		return errorBody(http.StatusInternalServerError, engine.TypeForStatus(http.StatusInternalServerError), err.Error())
	}
}
