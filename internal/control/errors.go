package control

import "errors"

var errClosed = errors.New("control: session closed")
