package domain

import "context"

// IdentityStore persists the device identity, encrypted at rest.
type IdentityStore interface {
	SaveIdentity(id Identity) error
	LoadIdentity() (Identity, bool, error)
}

// SessionStore persists per-peer ratchet state, encrypted at rest.
type SessionStore interface {
	LoadSession(peerID string) (SessionState, bool, error)
	SaveSession(st SessionState) error
	DeleteSession(peerID string) error
}

// PreKeyStore persists the private halves of prekeys plus rotation metadata.
type PreKeyStore interface {
	SaveSignedPreKeyPair(p SignedPreKeyPair) error
	LoadSignedPreKeyPair(keyID uint32) (SignedPreKeyPair, bool, error)
	SaveOneTimePairs(pairs []OneTimePreKeyPair) error
	ConsumeOneTimePair(keyID uint32) (OneTimePreKeyPair, bool, error)

	KeyVersion() (uint32, error)
	SetKeyVersion(v uint32) error
	LastRotation() (int64, bool, error)
	SetLastRotation(unixMillis int64) error
	NextSignedPreKeyID() (uint32, error)
	NextOneTimeKeyIDs(n int) ([]uint32, error)
}

// MessageStore is the local durable message/queue/receipt layout.
type MessageStore interface {
	// UpsertMessage inserts by client id; a duplicate id is a no-op and
	// returns false.
	UpsertMessage(m Message) (bool, error)
	GetMessage(id string) (Message, bool, error)
	SetMessageSent(id, serverID string, serverTimestamp int64) error
	ApplyReceipt(r ReceiptRecord) (Status, bool, error)
	MarkUndecryptable(id string) error

	Enqueue(m Message, e PendingQueueEntry) error
	DuePending(nowMillis int64, maxRetries int) ([]PendingQueueEntry, error)
	AllPending() ([]PendingQueueEntry, error)
	UpdatePending(e PendingQueueEntry) error
	DeletePending(messageID string) error

	ReceiptCursor() (int64, error)
	SetReceiptCursor(seq int64) error
	InboundCursor(chatID string) (int64, error)
	SetInboundCursor(chatID string, seq int64) error
}

// RequestSigner produces detached signatures over raw request bodies.
type RequestSigner interface {
	Sign(body []byte) []byte
}

// RelayClient is the client side of the server API.
type RelayClient interface {
	UploadKeys(ctx context.Context, req UploadKeysRequest) (UploadKeysResponse, error)
	FetchBundle(ctx context.Context, userID string, deviceID int) (PreKeyBundle, error)
	PreKeyCount(ctx context.Context, deviceID int) (int, error)
	RotateSignedPreKey(ctx context.Context, req RotateRequest) (RotateResponse, error)
	RotationHistory(ctx context.Context, deviceID int) ([]RotationEvent, error)

	SendMessage(ctx context.Context, req SendMessageRequest) (SendMessageResponse, error)
	FetchMessages(ctx context.Context, chatID string, sinceSeq int64) ([]InboundMessage, error)

	PushReceipts(ctx context.Context, receipts []Receipt) error
	FetchReceipts(ctx context.Context, sinceSeq int64) ([]Receipt, int64, error)
}
