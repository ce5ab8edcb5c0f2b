// Package relay is the HTTP implementation of domain.RelayClient.
//
// The relay server stores key bundles and forwards encrypted envelopes
// between devices. Mutating requests carry a detached Ed25519 signature over
// the exact raw request body in the X-Seal-Signature header; the server
// verifies it against the device's registered signing key. Responses outside
// 2xx are classified into the apperr taxonomy so the delivery pipeline can
// decide retry behaviour from the error alone.
package relay
