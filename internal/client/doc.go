// Package client is the CLI's HTTP client for the daemon API. Every CLI
// command other than "daemon" and "config" goes through it.
package client
