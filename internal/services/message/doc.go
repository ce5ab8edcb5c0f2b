// Package message is the send/receive surface above the crypto engine and
// the delivery pipeline. Sending encrypts and enqueues; actual network
// submission is the retry scheduler's job. Receiving pulls, deduplicates by
// client id, decrypts, and pushes delivered receipts.
package message
