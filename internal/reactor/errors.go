package reactor

import "errors"

var (
	errInvalidTimerKind = errors.New("reactor: invalid timer kind")
	errOutOfTimers      = errors.New("reactor: timer pool exhausted")
	errOutOfHandles     = errors.New("reactor: handle pool exhausted")
	errFDAlreadyWatched = errors.New("reactor: fd already registered")
	errUnknownHandle    = errors.New("reactor: handle not registered")
)
