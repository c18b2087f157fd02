// Package main implements the atelier command-line client.
//
// Most subcommands talk to a running daemon over its HTTP API; the address
// comes from paths.api_bind or the --api flag. `atelier daemon` runs the
// daemon itself in the foreground and `atelier config` manages the
// configuration file.
package main
