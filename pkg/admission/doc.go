// Package admission implements per-listener admission control: a boolean
// gate deciding whether new work may begin, and an atomic non-negative
// counter of work in progress.
//
// Transport callbacks use Controller.Admit, which checks the gate and
// increments the counter as one step with respect to Pause:
//
//	release, ok := ctrl.Admit()
//	if !ok {
//	    return status.Error(codes.Unavailable, "listener paused")
//	}
//	defer release()
//
// A request admitted before Pause returns is counted; a request arriving
// after Pause returns is rejected before any increment.
package admission
