// Package delivery implements the durable send pipeline: a timer-driven
// retry scheduler over the local pending queue, a backgrounding flush with a
// hard wall-clock bound, and a receipt poller that reconciles server acks
// into local message status.
package delivery
