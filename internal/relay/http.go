package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sealrelay/internal/domain"
	"sealrelay/pkg/apperr"
)

// Request headers understood by the server.
const (
	HeaderSignature = "X-Seal-Signature"
	HeaderUser      = "X-Seal-User"
	HeaderDevice    = "X-Seal-Device"
)

// Client talks to a sealrelay server on behalf of one device.
type Client struct {
	base     string
	http     *http.Client
	signer   domain.RequestSigner
	userID   string
	deviceID int
}

func New(base, userID string, deviceID int, signer domain.RequestSigner) *Client {
	return &Client{
		base:     base,
		http:     &http.Client{Timeout: 30 * time.Second},
		signer:   signer,
		userID:   userID,
		deviceID: deviceID,
	}
}

var _ domain.RelayClient = (*Client)(nil)

func (c *Client) UploadKeys(ctx context.Context, req domain.UploadKeysRequest) (domain.UploadKeysResponse, error) {
	var out domain.UploadKeysResponse
	err := c.post(ctx, "/v1/keys", req, &out)
	return out, err
}

func (c *Client) FetchBundle(ctx context.Context, userID string, deviceID int) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	path := "/v1/keys/" + url.PathEscape(userID) + "/" + strconv.Itoa(deviceID)
	err := c.getJSON(ctx, path, &out)
	return out, err
}

func (c *Client) PreKeyCount(ctx context.Context, deviceID int) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.getJSON(ctx, "/v1/keys/count?deviceId="+strconv.Itoa(deviceID), &out)
	return out.Count, err
}

func (c *Client) RotateSignedPreKey(ctx context.Context, req domain.RotateRequest) (domain.RotateResponse, error) {
	var out domain.RotateResponse
	err := c.post(ctx, "/v1/keys/rotate", req, &out)
	return out, err
}

func (c *Client) RotationHistory(ctx context.Context, deviceID int) ([]domain.RotationEvent, error) {
	var out []domain.RotationEvent
	err := c.getJSON(ctx, "/v1/keys/rotations?deviceId="+strconv.Itoa(deviceID), &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, req domain.SendMessageRequest) (domain.SendMessageResponse, error) {
	var out domain.SendMessageResponse
	err := c.post(ctx, "/v1/messages", req, &out)
	return out, err
}

func (c *Client) FetchMessages(ctx context.Context, chatID string, sinceSeq int64) ([]domain.InboundMessage, error) {
	var out []domain.InboundMessage
	path := "/v1/messages?chatId=" + url.QueryEscape(chatID) + "&since=" + strconv.FormatInt(sinceSeq, 10)
	err := c.getJSON(ctx, path, &out)
	return out, err
}

func (c *Client) PushReceipts(ctx context.Context, receipts []domain.Receipt) error {
	return c.post(ctx, "/v1/receipts", receipts, nil)
}

func (c *Client) FetchReceipts(ctx context.Context, sinceSeq int64) ([]domain.Receipt, int64, error) {
	var out struct {
		Receipts []domain.Receipt `json:"receipts"`
		LastSeq  int64            `json:"lastSeq"`
	}
	err := c.getJSON(ctx, "/v1/receipts?since="+strconv.FormatInt(sinceSeq, 10), &out)
	return out.Receipts, out.LastSeq, err
}

// post marshals in once and signs those exact bytes. The server verifies the
// signature over the body it reads off the wire, so the two must be
// byte-identical.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authHeaders(req, body)
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	c.authHeaders(req, nil)
	return c.do(req, out)
}

func (c *Client) authHeaders(req *http.Request, body []byte) {
	req.Header.Set(HeaderUser, c.userID)
	req.Header.Set(HeaderDevice, strconv.Itoa(c.deviceID))
	if body != nil && c.signer != nil {
		req.Header.Set(HeaderSignature, base64.StdEncoding.EncodeToString(c.signer.Sign(body)))
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		// Connectivity failures stay retryable.
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return apperr.FromHTTPStatus(resp.StatusCode, errorMessage(resp))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func errorMessage(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err == nil {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Sprintf("%s %s: %s", resp.Request.Method, resp.Request.URL.Path, e.Error)
		}
	}
	return fmt.Sprintf("%s %s: %s", resp.Request.Method, resp.Request.URL.Path, resp.Status)
}
