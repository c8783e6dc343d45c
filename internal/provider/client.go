// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package provider is a client for the self-hosted mail sync engine's REST
// API. Requests authenticate as the account: the account id is the basic
// auth user and the password is empty.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/deepframe/mailflow/internal/models"
)

// Draft is an outbound message.
type Draft struct {
	Subject        string           `json:"subject"`
	ReplyToMessage string           `json:"reply_to_message,omitempty"`
	From           []models.Contact `json:"from"`
	ReplyTo        []models.Contact `json:"reply_to"`
	To             []models.Contact `json:"to"`
	Cc             []models.Contact `json:"cc"`
	Bcc            []models.Contact `json:"bcc"`
	Body           string           `json:"body"`
	FileIDs        []string         `json:"file_ids"`
}

// Account is the provider's view of a connected mailbox.
type Account struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email_address"`
	Provider  string `json:"provider"`
	SyncState string `json:"sync_state"`
}

// Client calls the provider API. Requests share one rate limiter.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a provider client. A non-positive rps disables rate
// limiting.
func NewClient(httpClient *http.Client, baseURL string, rps float64, burst int) *Client {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// SendMessage sends a draft from the account.
func (c *Client) SendMessage(ctx context.Context, accountID string, d Draft) error {
	if d.ReplyTo == nil {
		d.ReplyTo = []models.Contact{}
	}
	if d.FileIDs == nil {
		d.FileIDs = []string{}
	}
	return c.do(ctx, http.MethodPost, "/send", accountID, d, nil)
}

// GetAccount returns the account's metadata, including its email address.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var a Account
	if err := c.do(ctx, http.MethodGet, "/account", accountID, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// MarkAsRead clears the unread flag of a message.
func (c *Client) MarkAsRead(ctx context.Context, accountID, messageID string) error {
	return c.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(messageID), accountID,
		map[string]bool{"unread": false}, nil)
}

func (c *Client) do(ctx context.Context, method, path, accountID string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("provider rate limit: %w", err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(accountID, "")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned HTTP %d for %s %s: %s", resp.StatusCode, method, path, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// AccountEmail resolves the account's own address. It has the shape of a
// cache loader.
func (c *Client) AccountEmail(ctx context.Context, accountID string) (string, bool, error) {
	a, err := c.GetAccount(ctx, accountID)
	if err != nil {
		return "", false, err
	}
	return a.Email, a.Email != "", nil
}
