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

// Package notify sends push notices for newly arrived unread mail.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Filter narrows a notification to tagged devices.
type Filter struct {
	Field    string `json:"field"`
	Key      string `json:"key"`
	Relation string `json:"relation"`
	Value    string `json:"value"`
}

// Notification is a push request.
type Notification struct {
	AppID    string            `json:"app_id"`
	Contents map[string]string `json:"contents"`
	Headings map[string]string `json:"headings,omitempty"`
	Filters  []Filter          `json:"filters,omitempty"`
}

// UserFilter targets the devices tagged with an account id.
func UserFilter(accountID string) Filter {
	return Filter{Field: "tag", Key: "user_id", Relation: "=", Value: accountID}
}

// PushClient talks to the push provider's REST API.
type PushClient struct {
	httpClient *http.Client
	baseURL    string
	appID      string
	apiKey     string
}

// NewPushClient creates a push provider client.
func NewPushClient(httpClient *http.Client, baseURL, appID, apiKey string) *PushClient {
	return &PushClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		appID:      appID,
		apiKey:     apiKey,
	}
}

// Send posts a notification. AppID is filled in when empty.
func (c *PushClient) Send(ctx context.Context, n Notification) error {
	if n.AppID == "" {
		n.AppID = c.appID
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Basic "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push provider returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
