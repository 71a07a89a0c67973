package server

import "errors"

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrValidation     = errors.New("invalid request")
	ErrNotParticipant = errors.New("not a participant of this conversation")
	ErrPersistence    = errors.New("persistence unavailable")
	ErrNotFound       = errors.New("not found")
)

// errorResponse maps a delivery error onto the response sent back to the
// client that issued request id.
func errorResponse(id int, err error) *ServerMessage {
	switch {
	case errors.Is(err, ErrValidation):
		return ErrBadRequest(id, err.Error())
	case errors.Is(err, ErrNotParticipant):
		return ErrForbidden(id)
	case errors.Is(err, ErrUnauthorized):
		return ErrUnauthorizedMsg(id)
	case errors.Is(err, ErrNotFound):
		return ErrNotFoundMsg(id)
	case errors.Is(err, ErrPersistence):
		return ErrServiceUnavailable(id)
	default:
		return ErrInternalError(id)
	}
}
