package apperr

// Code classifies a failure by how callers must react to it. Only
// CodeTransient participates in retry loops; everything else is surfaced.
type Code string

const (
	CodeUnknown    Code = "UNKNOWN"
	CodeAuth       Code = "AUTH"       // missing/invalid request signature
	CodeConflict   Code = "CONFLICT"   // replay detected, treat as already delivered
	CodeValidation Code = "VALIDATION" // malformed input, clock skew
	CodeAccess     Code = "ACCESS"     // revoked or unknown device
	CodeTransient  Code = "TRANSIENT"  // connectivity, 5xx, rate limiting
	CodeCrypto     Code = "CRYPTO"     // AEAD/decryption failure, desynchronized keys
	CodeNotFound   Code = "NOT_FOUND"
	CodeInternal   Code = "INTERNAL"
)
