// Package cli provides the inboundd commands.
package cli
