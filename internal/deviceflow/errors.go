package deviceflow

import "errors"

// ErrFlowInProgress is returned when an attempt is started while another
// attempt on the same client has not reached a terminal state
var ErrFlowInProgress = errors.New("device flow already in progress")
