// Package references resolves reference photo ids and inline upload paths
// into validated image data for provider requests.
package references
