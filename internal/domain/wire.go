package domain

// Wire-level request/response shapes shared by the relay client and the
// server API. Binary fields marshal to base64 via encoding/json.

// SignedPreKey is the public half of a signed prekey as it travels.
type SignedPreKey struct {
	KeyID     uint32 `json:"keyId"`
	PublicKey []byte `json:"publicKey"`
	Signature []byte `json:"signature"`
}

// OneTimePreKey is the public half of a one-time prekey as it travels.
type OneTimePreKey struct {
	KeyID     uint32 `json:"keyId"`
	PublicKey []byte `json:"publicKey"`
}

// UploadKeysRequest registers or refreshes a device's key bundle.
type UploadKeysRequest struct {
	DeviceID       int             `json:"deviceId"`
	RegistrationID uint32          `json:"registrationId"`
	KeyVersion     uint32          `json:"keyVersion"`
	IdentityKey    []byte          `json:"identityKey"` // X25519, used for bootstrap sealing
	SigningKey     []byte          `json:"signingKey"`  // Ed25519, used for signatures
	SignedPreKey   SignedPreKey    `json:"signedPreKey"`
	OneTimePreKeys []OneTimePreKey `json:"oneTimePreKeys,omitempty"`
}

type UploadKeysResponse struct {
	CountAdded int `json:"countAdded"`
}

// PreKeyBundle is returned by a bundle fetch. PreKey is omitted once the
// target's one-time pool is exhausted.
type PreKeyBundle struct {
	UserID         string         `json:"userId"`
	DeviceID       int            `json:"deviceId"`
	RegistrationID uint32         `json:"registrationId"`
	IdentityKey    []byte         `json:"identityKey"`
	SigningKey     []byte         `json:"signingKey"`
	SignedPreKey   SignedPreKey   `json:"signedPreKey"`
	PreKey         *OneTimePreKey `json:"preKey,omitempty"`
}

// RotateRequest carries a signed-prekey rotation. The raw JSON bytes of this
// request are what the detached signature header covers.
type RotateRequest struct {
	DeviceID     int          `json:"deviceId"`
	KeyVersion   uint32       `json:"keyVersion"`
	SignedPreKey SignedPreKey `json:"signedPreKey"`
}

type RotateResponse struct {
	KeyVersion uint32 `json:"keyVersion"`
	RotatedAt  int64  `json:"rotatedAt"` // unix millis, server truth
}

// RotationEvent is one entry of a device's rotation history.
type RotationEvent struct {
	KeyVersion uint32 `json:"keyVersion"`
	RotatedAt  int64  `json:"rotatedAt"`
}

// SendMessageRequest submits one encrypted message. The raw JSON bytes are
// covered by the detached signature header.
type SendMessageRequest struct {
	ID        string   `json:"id"`
	ChatID    string   `json:"chatId"`
	SenderID  string   `json:"senderId"`
	Type      string   `json:"type"`
	Envelope  Envelope `json:"envelope"`
	Timestamp int64    `json:"timestamp"` // client clock, unix millis
}

type SendMessageResponse struct {
	ServerID        string `json:"serverId"`
	ServerTimestamp int64  `json:"serverTimestamp"`
}

// InboundMessage is a stored message as served to recipients.
type InboundMessage struct {
	Seq             int64    `json:"seq"`
	ID              string   `json:"id"`
	ChatID          string   `json:"chatId"`
	SenderID        string   `json:"senderId"`
	Type            string   `json:"type"`
	Envelope        Envelope `json:"envelope"`
	ServerTimestamp int64    `json:"serverTimestamp"`
}

// Receipt acknowledges delivery or read of a message.
type Receipt struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Status    Status `json:"status"`
	Timestamp int64  `json:"timestamp"`
}
