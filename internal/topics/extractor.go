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

package topics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultAlgorithm is the extractor algorithm requested when none is configured.
const DefaultAlgorithm = "soa"

// ErrMalformedResponse is returned when the extractor answers with anything
// other than a JSON array of topics.
var ErrMalformedResponse = errors.New("topic extractor returned a non-array response")

// Extractor finds topics in normalized text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]ExtractedTopic, error)
}

// Client calls the external topic extraction service.
type Client struct {
	httpClient *http.Client
	url        string
	algorithm  string
}

// NewClient creates an extractor client for the service at url.
func NewClient(httpClient *http.Client, url, algorithm string) *Client {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	return &Client{
		httpClient: httpClient,
		url:        url,
		algorithm:  algorithm,
	}
}

// Extract posts the text as a form and decodes the topic list.
func (c *Client) Extract(ctx context.Context, text string) ([]ExtractedTopic, error) {
	form := url.Values{}
	form.Set("algorithm", c.algorithm)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extract topics: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read extractor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("topic extractor returned HTTP %d", resp.StatusCode)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return nil, fmt.Errorf("%w: %.200s", ErrMalformedResponse, body)
	}

	var topics []ExtractedTopic
	if err := json.Unmarshal(body, &topics); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return topics, nil
}
