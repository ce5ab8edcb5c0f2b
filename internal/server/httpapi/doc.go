// Package httpapi is the chi router and handler layer of the server. It
// stays thin: decode, pull auth headers, call a usecase, encode. Guard
// decisions (signatures, replay, skew) live in the usecases; this layer only
// maps taxonomy errors onto HTTP statuses.
package httpapi
