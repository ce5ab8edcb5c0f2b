package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sealrelay/internal/domain"
	"sealrelay/internal/server/metrics"
	"sealrelay/internal/server/model"
	"sealrelay/pkg/apperr"
	"sealrelay/pkg/logger"
)

var msgLog = logger.New("messages")

// MaxClockSkew bounds |serverTime - claimedTimestamp| on submissions.
const MaxClockSkew = 5 * time.Minute

// Messages is the integrity guard in front of the remote message store.
type Messages struct {
	log   MessageLog
	store RemoteStore
	now   func() time.Time
}

func NewMessages(log MessageLog, store RemoteStore) *Messages {
	return &Messages{log: log, store: store, now: time.Now}
}

// Submit runs the guard checks in order: device active, clock skew, request
// signature, replay insertion, then persist. A persist failure compensates
// by removing the just-inserted replay row so the client's retry is not
// permanently blocked.
func (m *Messages) Submit(ctx context.Context, userID string, deviceID int, rawBody, signature []byte, req domain.SendMessageRequest) (domain.SendMessageResponse, error) {
	device, err := m.log.GetDevice(ctx, userID, deviceID)
	if err != nil {
		return domain.SendMessageResponse{}, err
	}
	if device == nil || device.Status == model.DeviceRevoked {
		return domain.SendMessageResponse{}, apperr.Access("device revoked or unknown")
	}

	now := m.now()
	skew := now.Sub(time.UnixMilli(req.Timestamp))
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew {
		return domain.SendMessageResponse{}, apperr.Validation("message timestamp outside allowed skew")
	}

	identity, err := m.log.GetIdentity(ctx, userID, deviceID)
	if err != nil {
		return domain.SendMessageResponse{}, err
	}
	if identity == nil || !verifyRaw(identity.SigningKey, rawBody, signature) {
		return domain.SendMessageResponse{}, apperr.Auth("request signature does not verify")
	}

	if req.ID == "" || req.ChatID == "" {
		return domain.SendMessageResponse{}, apperr.Validation("missing message or chat id")
	}

	if err := m.log.InsertReplay(ctx, &model.ReplayLogEntry{
		MessageID:  req.ID,
		SenderID:   userID,
		DeviceUUID: device.DeviceUUID,
	}); err != nil {
		if apperr.CodeOf(err) == apperr.CodeConflict {
			metrics.ReplaysDetected.Inc()
		}
		return domain.SendMessageResponse{}, err
	}

	serverTimestamp := now.UnixMilli()
	_, err = m.store.Append(ctx, domain.InboundMessage{
		ID:              req.ID,
		ChatID:          req.ChatID,
		SenderID:        userID,
		Type:            req.Type,
		Envelope:        req.Envelope,
		ServerTimestamp: serverTimestamp,
	})
	if err != nil {
		msgLog.Errorf("persist message %s: %v", req.ID, err)
		if derr := m.log.DeleteReplay(ctx, req.ID); derr != nil {
			msgLog.Errorf("compensate replay row %s: %v", req.ID, derr)
		}
		return domain.SendMessageResponse{}, apperr.Internal("message store unavailable")
	}

	metrics.MessagesStored.Inc()
	return domain.SendMessageResponse{
		ServerID:        uuid.NewString(),
		ServerTimestamp: serverTimestamp,
	}, nil
}

// Fetch pages a chat past the caller's cursor.
func (m *Messages) Fetch(ctx context.Context, chatID string, sinceSeq int64) ([]domain.InboundMessage, error) {
	if chatID == "" {
		return nil, apperr.Validation("missing chat id")
	}
	return m.store.List(ctx, chatID, sinceSeq)
}

// PushReceipts appends delivery/read receipts. Duplicates per
// (message, user, status) are dropped by the table's unique constraint.
func (m *Messages) PushReceipts(ctx context.Context, userID string, receipts []domain.Receipt) error {
	rows := make([]model.ReceiptRow, 0, len(receipts))
	for _, r := range receipts {
		if r.Status != domain.StatusDelivered && r.Status != domain.StatusRead {
			return apperr.Validation("receipt status must be delivered or read")
		}
		rows = append(rows, model.ReceiptRow{
			MessageID: r.MessageID,
			UserID:    userID,
			Status:    string(r.Status),
			Timestamp: r.Timestamp,
		})
	}
	return m.log.InsertReceipts(ctx, rows)
}

// FetchReceipts returns receipts from other users past sinceSeq, plus the
// new cursor position.
func (m *Messages) FetchReceipts(ctx context.Context, userID string, sinceSeq int64) ([]domain.Receipt, int64, error) {
	rows, err := m.log.ReceiptsSince(ctx, userID, sinceSeq)
	if err != nil {
		return nil, 0, err
	}
	lastSeq := sinceSeq
	out := make([]domain.Receipt, 0, len(rows))
	for _, r := range rows {
		if r.Seq > lastSeq {
			lastSeq = r.Seq
		}
		out = append(out, domain.Receipt{
			MessageID: r.MessageID,
			UserID:    r.UserID,
			Status:    domain.Status(r.Status),
			Timestamp: r.Timestamp,
		})
	}
	return out, lastSeq, nil
}
