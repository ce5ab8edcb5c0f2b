package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"sealrelay/internal/domain"
	"sealrelay/internal/server/usecase"
	"sealrelay/pkg/apperr"
)

// maxBodyBytes caps request bodies; envelopes are small by construction.
const maxBodyBytes = 1 << 20

type handlers struct {
	keys *usecase.Keys
	msgs *usecase.Messages
}

func caller(r *http.Request) (string, int) {
	deviceID, _ := strconv.Atoi(r.Header.Get(HeaderDevice))
	return r.Header.Get(HeaderUser), deviceID
}

// readSigned returns the raw body bytes and the decoded signature header.
// The raw bytes are what signature verification runs against; they are
// decoded into out as a separate step.
func readSigned(r *http.Request, out any) (raw, sig []byte, err error) {
	raw, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, apperr.Validation("unreadable request body")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, nil, apperr.Validation("malformed request body")
	}
	sigHeader := r.Header.Get(HeaderSignature)
	if sigHeader != "" {
		sig, err = base64.StdEncoding.DecodeString(sigHeader)
		if err != nil {
			return nil, nil, apperr.Auth("malformed signature header")
		}
	}
	return raw, sig, nil
}

func (h *handlers) uploadKeys(w http.ResponseWriter, r *http.Request) {
	userID, _ := caller(r)
	var req domain.UploadKeysRequest
	if _, _, err := readSigned(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.keys.Upload(r.Context(), userID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) fetchBundle(w http.ResponseWriter, r *http.Request) {
	actorID, _ := caller(r)
	targetID := chi.URLParam(r, "userID")
	deviceID, err := strconv.Atoi(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, apperr.Validation("bad device id"))
		return
	}
	bundle, err := h.keys.Bundle(r.Context(), actorID, targetID, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (h *handlers) preKeyCount(w http.ResponseWriter, r *http.Request) {
	userID, deviceID := caller(r)
	if q := r.URL.Query().Get("deviceId"); q != "" {
		if id, err := strconv.Atoi(q); err == nil {
			deviceID = id
		}
	}
	count, err := h.keys.Count(r.Context(), userID, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *handlers) rotate(w http.ResponseWriter, r *http.Request) {
	userID, _ := caller(r)
	var req domain.RotateRequest
	raw, sig, err := readSigned(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.keys.Rotate(r.Context(), userID, raw, sig, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) rotationHistory(w http.ResponseWriter, r *http.Request) {
	userID, deviceID := caller(r)
	if q := r.URL.Query().Get("deviceId"); q != "" {
		if id, err := strconv.Atoi(q); err == nil {
			deviceID = id
		}
	}
	events, err := h.keys.History(r.Context(), userID, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	userID, deviceID := caller(r)
	var req domain.SendMessageRequest
	raw, sig, err := readSigned(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.msgs.Submit(r.Context(), userID, deviceID, raw, sig, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) fetchMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	msgs, err := h.msgs.Fetch(r.Context(), chatID, since)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.InboundMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *handlers) pushReceipts(w http.ResponseWriter, r *http.Request) {
	userID, _ := caller(r)
	var receipts []domain.Receipt
	if _, _, err := readSigned(r, &receipts); err != nil {
		writeError(w, err)
		return
	}
	if err := h.msgs.PushReceipts(r.Context(), userID, receipts); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) fetchReceipts(w http.ResponseWriter, r *http.Request) {
	userID, _ := caller(r)
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	receipts, lastSeq, err := h.msgs.FetchReceipts(r.Context(), userID, since)
	if err != nil {
		writeError(w, err)
		return
	}
	if receipts == nil {
		receipts = []domain.Receipt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receipts": receipts,
		"lastSeq":  lastSeq,
	})
}
