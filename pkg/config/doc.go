// Package config defines the runtime configuration file and the tolerant
// parameter parsing used by listener constructors.
//
// Files are YAML (.yaml, .yml) or JSON:
//
//	logging: {level: info, format: text}
//	shutdown: {timeoutMillis: 30000, pollIntervalMillis: 100}
//	admin: {port: 9165}
//	mediation: {engine: local}
//	listeners:
//	  - name: orders-grpc
//	    protocol: grpc
//	    sequence: orders
//	    parameters: {port: "8888"}
//
// Listener parameters are strings. Malformed optional values fall back to
// their documented default with a warning; missing mandatory values fail
// that listener with a *protocol.ConfigurationError.
package config
