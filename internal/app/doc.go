// Package app wires stores, services and clients into the object graph the
// CLI runs against.
package app
