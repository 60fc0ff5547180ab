package errs

import "net/http"

const (
	ServerInternalError = 500

	AuthFailureError       = 1001
	InvalidArgumentError   = 1002
	PermissionDeniedError  = 1003
	NotFoundError          = 1004
	DeliveryFailureError   = 1005
	ProtocolMalformedError = 1006
	StateConflictError     = 1009
)

var (
	ErrInternal          = NewCodeError(ServerInternalError, "internal error")
	ErrAuthFailure       = NewCodeError(AuthFailureError, "authentication failed")
	ErrInvalidArgument   = NewCodeError(InvalidArgumentError, "invalid argument")
	ErrPermissionDenied  = NewCodeError(PermissionDeniedError, "permission denied")
	ErrNotFound          = NewCodeError(NotFoundError, "not found")
	ErrDeliveryFailure   = NewCodeError(DeliveryFailureError, "delivery failed")
	ErrProtocolMalformed = NewCodeError(ProtocolMalformedError, "malformed frame")
	ErrStateConflict     = NewCodeError(StateConflictError, "state conflict")
)

// HTTPStatus 错误码到 HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case AuthFailureError:
		return http.StatusUnauthorized
	case InvalidArgumentError, ProtocolMalformedError:
		return http.StatusBadRequest
	case PermissionDeniedError:
		return http.StatusForbidden
	case NotFoundError:
		return http.StatusNotFound
	case StateConflictError:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
