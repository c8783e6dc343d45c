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

// Package search projects stored messages into the search engine. Messages,
// per-account topic names and per-account contacts each live in their own
// index, routed by account id.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
)

// Index names.
const (
	IndexMessages = "messages"
	IndexTopics   = "topics"
	IndexContacts = "contacts"
)

// BulkDoc is one document of a bulk index request.
type BulkDoc struct {
	ID      string
	Routing string
	Body    any
}

// Index is the subset of the search engine the projections use.
type Index interface {
	Put(ctx context.Context, index, id, routing string, doc any) error
	Delete(ctx context.Context, index, id, routing string) error
	Bulk(ctx context.Context, index string, docs []BulkDoc) error
}

// ESConfig configures the Elasticsearch client.
type ESConfig struct {
	Addresses []string
	Username  string
	Password  string
	Transport http.RoundTripper
}

// ESIndex implements Index on Elasticsearch.
type ESIndex struct {
	es *elasticsearch.Client
}

// NewESIndex creates an Elasticsearch-backed index.
func NewESIndex(cfg ESConfig) (*ESIndex, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &ESIndex{es: es}, nil
}

// Ping checks that the cluster is reachable.
func (x *ESIndex) Ping(ctx context.Context) error {
	res, err := x.es.Ping(x.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("ping elasticsearch: %s", res.Status())
	}
	return nil
}

// Put indexes one document, replacing any previous version.
func (x *ESIndex) Put(ctx context.Context, index, id, routing string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	res, err := x.es.Index(index, bytes.NewReader(body),
		x.es.Index.WithContext(ctx),
		x.es.Index.WithDocumentID(id),
		x.es.Index.WithRouting(routing),
	)
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("index", index, id, res.StatusCode, res.Body)
	}
	return nil
}

// Delete removes one document. Deleting a missing document succeeds.
func (x *ESIndex) Delete(ctx context.Context, index, id, routing string) error {
	res, err := x.es.Delete(index, id,
		x.es.Delete.WithContext(ctx),
		x.es.Delete.WithRouting(routing),
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return responseError("delete", index, id, res.StatusCode, res.Body)
	}
	return nil
}

type bulkAction struct {
	Index bulkMeta `json:"index"`
}

type bulkMeta struct {
	Index   string `json:"_index"`
	ID      string `json:"_id"`
	Routing string `json:"routing,omitempty"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Bulk indexes docs in one request.
func (x *ESIndex) Bulk(ctx context.Context, index string, docs []BulkDoc) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		if err := enc.Encode(bulkAction{Index: bulkMeta{Index: index, ID: d.ID, Routing: d.Routing}}); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(d.Body); err != nil {
			return fmt.Errorf("encode bulk document: %w", err)
		}
	}

	res, err := x.es.Bulk(&buf, x.es.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("bulk", index, "", res.StatusCode, res.Body)
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !br.Errors {
		return nil
	}
	failed := 0
	var first string
	for _, item := range br.Items {
		for _, r := range item {
			if r.Error == nil {
				continue
			}
			if failed == 0 {
				first = fmt.Sprintf("%s: %s", r.ID, r.Error.Reason)
			}
			failed++
		}
	}
	return fmt.Errorf("bulk %s: %d of %d documents failed, first %s", index, failed, len(docs), first)
}

func responseError(op, index, id string, status int, body io.Reader) error {
	snippet, _ := io.ReadAll(io.LimitReader(body, 512))
	return fmt.Errorf("%s %s/%s: HTTP %d: %s", op, index, id, status, bytes.TrimSpace(snippet))
}
