package domain

// Status is the delivery state of a message. Transitions are monotonic:
// a later receipt can never move it backwards.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

var statusPriority = map[Status]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Priority orders statuses for the max-merge rule. Unknown statuses sort
// below pending so bad input can never advance a message.
func (s Status) Priority() int {
	p, ok := statusPriority[s]
	if !ok {
		return -1
	}
	return p
}

// MergeStatus is the pure max-merge reducer over (current, incoming).
func MergeStatus(current, incoming Status) Status {
	if incoming.Priority() > current.Priority() {
		return incoming
	}
	return current
}

// Message is a locally persisted message. The envelope is write-once; only
// the delivery pipeline mutates status and server fields.
type Message struct {
	ID              string   `json:"id"` // client-generated, globally unique
	ChatID          string   `json:"chat_id"`
	SenderID        string   `json:"sender_id"`
	PeerID          string   `json:"peer_id"`
	Type            string   `json:"type"`
	Envelope        Envelope `json:"envelope"`
	ClientTimestamp int64    `json:"client_timestamp"`
	ServerTimestamp *int64   `json:"server_timestamp,omitempty"`
	ServerID        string   `json:"server_id,omitempty"`
	Status          Status   `json:"status"`
	Undecryptable   bool     `json:"undecryptable,omitempty"`
}

// PendingQueueEntry tracks a message awaiting confirmed send. Deleted on
// success; Failed marks terminal, non-retryable exhaustion or rejection.
type PendingQueueEntry struct {
	MessageID   string `json:"message_id"`
	RetryCount  int    `json:"retry_count"`
	NextRetryAt int64  `json:"next_retry_at"` // unix millis
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	Failed      bool   `json:"failed,omitempty"`
}

// ReceiptRecord is one append-only delivery/read event, unique per
// (message, user, status).
type ReceiptRecord struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Status    Status `json:"status"`
	Timestamp int64  `json:"timestamp"`
}
