// Package telegram talks to the Telegram Bot API: it delivers replies and
// receives updates through a webhook.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/comigor/quotebot/internal/config"
	"github.com/comigor/quotebot/internal/delivery"
)

// APIError is a response with ok=false.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.StatusCode, e.Description)
}

var ErrNoFilePath = errors.New("telegram: getFile returned no file_path")

// Client is a Bot API client. It implements delivery.Channel with the chat id
// as conversation id.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a new Client
func NewClient(cfg config.TelegramConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

func (c *Client) call(ctx context.Context, method, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var ar apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return fmt.Errorf("telegram %s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if !ar.OK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: ar.Description}
	}
	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) callJSON(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.call(ctx, method, "application/json", bytes.NewReader(body), out)
}

// SendText sends a message to chatID.
func (c *Client) SendText(ctx context.Context, chatID, text string, format delivery.Format) error {
	payload := map[string]any{"chat_id": chatID, "text": text}
	if format != delivery.Plain {
		payload["parse_mode"] = string(format)
	}
	return c.callJSON(ctx, "sendMessage", payload, nil)
}

// SendFile uploads blob as a document.
func (c *Client) SendFile(ctx context.Context, chatID string, blob []byte, filename string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", chatID); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(blob); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return c.call(ctx, "sendDocument", mw.FormDataContentType(), &buf, nil)
}

// FileURL resolves a file id to a download URL.
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := c.callJSON(ctx, "getFile", map[string]string{"file_id": fileID}, &file); err != nil {
		return "", err
	}
	if file.FilePath == "" {
		return "", ErrNoFilePath
	}
	return fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, file.FilePath), nil
}

// Download fetches the file behind fileID. The caller closes the reader.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	url, err := c.FileURL(ctx, fileID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download file: unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// SetWebhook registers url as the update endpoint.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	payload := map[string]any{"url": url, "allowed_updates": []string{"message"}}
	if secret != "" {
		payload["secret_token"] = secret
	}
	return c.callJSON(ctx, "setWebhook", payload, nil)
}
