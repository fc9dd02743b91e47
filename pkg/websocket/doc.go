// Package websocket provides the inbound WebSocket listeners: plain (ws),
// secure (wss) and HTTP WebSocket (httpws), which additionally accepts plain
// HTTP requests on its path.
//
// Listeners do not own their port. Each registers a (port, path) route with
// a shared EndpointManager; the first route on a port binds it and the last
// release unbinds it. Plain and TLS listeners cannot share a port.
//
// While paused, upgrade requests are refused with 503 Service Unavailable and
// frames arriving on connections that are already open are dropped. Open
// connections are closed only when the listener is deactivated or destroyed.
package websocket
