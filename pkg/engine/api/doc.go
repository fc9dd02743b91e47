// Package api provides the HTTP control API for deployed inbound listeners.
//
// Routes:
//
//	GET    /health
//	GET    /listeners
//	POST   /listeners                      deploy a listener from a JSON config
//	GET    /listeners/{name}
//	POST   /listeners/{name}/{action}      pause, resume, activate or deactivate
//	DELETE /listeners/{name}               undeploy (drain, then unbind)
//	GET    /metrics
package api
