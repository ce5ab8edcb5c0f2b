package domain

import (
	"encoding/base64"
	"encoding/json"

	"sealrelay/pkg/apperr"
)

// EnvelopeVersionRatchet tags ratchet-encrypted envelopes on the wire.
const EnvelopeVersionRatchet = 2

// Envelope is the wire form of an encrypted message payload.
//
// Ratchet (v2):  { d: ciphertext, i: iv, v: 2, h?: bootstrap header }
// Legacy hybrid: { k: wrapped key, i: iv, d: ciphertext } (no v, or v != 2)
//
// All binary fields are base64.
type Envelope struct {
	Data       string `json:"d"`
	IV         string `json:"i"`
	Version    int    `json:"v,omitempty"`
	Bootstrap  string `json:"h,omitempty"`
	WrappedKey string `json:"k,omitempty"`
}

// EnvelopeKind discriminates the closed set of envelope variants.
type EnvelopeKind int

const (
	EnvelopeRatchet EnvelopeKind = iota + 1
	EnvelopeLegacy
)

// ParsedEnvelope is a decoded envelope with binary fields unpacked. No
// cryptographic operation touches envelope bytes before this decode.
type ParsedEnvelope struct {
	Kind       EnvelopeKind
	Ciphertext []byte
	IV         []byte
	Bootstrap  []byte // ratchet only; nil unless first message of a session
	WrappedKey []byte // legacy only
}

// ParseEnvelope decodes raw JSON into one of the closed envelope variants.
func ParseEnvelope(raw []byte) (ParsedEnvelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ParsedEnvelope{}, apperr.Wrap(apperr.CodeValidation, "envelope: malformed JSON", err)
	}
	return env.Parse()
}

// Parse unpacks the base64 fields and classifies the envelope.
func (e Envelope) Parse() (ParsedEnvelope, error) {
	if e.Data == "" || e.IV == "" {
		return ParsedEnvelope{}, apperr.Validation("envelope: missing ciphertext or iv")
	}
	ct, err := base64.StdEncoding.DecodeString(e.Data)
	if err != nil {
		return ParsedEnvelope{}, apperr.Wrap(apperr.CodeValidation, "envelope: bad ciphertext encoding", err)
	}
	iv, err := base64.StdEncoding.DecodeString(e.IV)
	if err != nil {
		return ParsedEnvelope{}, apperr.Wrap(apperr.CodeValidation, "envelope: bad iv encoding", err)
	}

	if e.Version == EnvelopeVersionRatchet {
		out := ParsedEnvelope{Kind: EnvelopeRatchet, Ciphertext: ct, IV: iv}
		if e.Bootstrap != "" {
			h, err := base64.StdEncoding.DecodeString(e.Bootstrap)
			if err != nil {
				return ParsedEnvelope{}, apperr.Wrap(apperr.CodeValidation, "envelope: bad bootstrap header encoding", err)
			}
			out.Bootstrap = h
		}
		return out, nil
	}

	// Pre-ratchet peers send one-shot hybrid packages.
	if e.WrappedKey == "" {
		return ParsedEnvelope{}, apperr.Validation("envelope: legacy package missing wrapped key")
	}
	k, err := base64.StdEncoding.DecodeString(e.WrappedKey)
	if err != nil {
		return ParsedEnvelope{}, apperr.Wrap(apperr.CodeValidation, "envelope: bad wrapped key encoding", err)
	}
	return ParsedEnvelope{Kind: EnvelopeLegacy, Ciphertext: ct, IV: iv, WrappedKey: k}, nil
}
