// Package protocol defines the contracts shared by every inbound listener.
//
// It provides:
//   - Protocol, the wire protocol of a listener (grpc, mqtt, ws, wss, httpws)
//   - State, the listener lifecycle state
//   - Listener, the lifecycle capability set each protocol adapter implements
//   - Registry, the name-keyed set of deployed listeners
//   - the error taxonomy (ConfigurationError, TransportBindError and sentinels)
//
// # State machine
//
//	Unstarted --Start--> Running            (or Paused with startInPausedMode)
//	Running  <--Pause/Resume, Deactivate/Activate--> Paused
//	Running, Paused --Destroy--> Draining --(in-flight == 0 or timeout)--> Stopped
//
// # Registry Usage
//
//	reg := protocol.NewRegistry()
//	if err := reg.Register(listener); err != nil {
//	    return err
//	}
//	if err := reg.StartAll(ctx); err != nil {
//	    log.Warn("some listeners failed to start", "error", err)
//	}
package protocol
