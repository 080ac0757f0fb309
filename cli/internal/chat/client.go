package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/docease/telecare/cli/internal/dns"
	"github.com/docease/telecare/internal/models"
)

// APIError is a request the server answered with success=false.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// HTTPClient talks to the chat endpoints of the telecare server.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for the server at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &http.Transport{DialContext: dns.DialContext},
		},
	}
}

type sendRequest struct {
	AppointmentID string      `json:"appointmentId"`
	SenderID      string      `json:"senderId"`
	SenderRole    models.Role `json:"senderRole"`
	RecipientID   string      `json:"recipientId"`
	Text          string      `json:"text"`
}

type listRequest struct {
	AppointmentID string `json:"appointmentId"`
	RequesterID   string `json:"requesterId,omitempty"`
}

// response covers both outcomes: on success "message" is the stored
// record, on failure it is the error text.
type response struct {
	Success  bool             `json:"success"`
	Message  json.RawMessage  `json:"message"`
	Messages []models.Message `json:"messages"`
}

// Send implements Sender.
func (c *HTTPClient) Send(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	var resp response
	if err := c.post(ctx, "/api/chat/send", sendRequest{
		AppointmentID: msg.AppointmentID,
		SenderID:      msg.SenderID,
		SenderRole:    msg.SenderRole,
		RecipientID:   msg.RecipientID,
		Text:          msg.Text,
	}, &resp); err != nil {
		return nil, err
	}

	var stored models.Message
	if err := json.Unmarshal(resp.Message, &stored); err != nil {
		return nil, fmt.Errorf("decode stored message: %w", err)
	}
	return &stored, nil
}

// Fetch implements Fetcher.
func (c *HTTPClient) Fetch(ctx context.Context, appointmentID, requesterID string) ([]models.Message, error) {
	var resp response
	if err := c.post(ctx, "/api/chat/messages", listRequest{
		AppointmentID: appointmentID,
		RequesterID:   requesterID,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out *response) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response (status %d): %w", path, res.StatusCode, err)
	}
	if !out.Success {
		var text string
		if err := json.Unmarshal(out.Message, &text); err != nil || text == "" {
			text = http.StatusText(res.StatusCode)
		}
		return &APIError{Status: res.StatusCode, Message: text}
	}
	return nil
}
