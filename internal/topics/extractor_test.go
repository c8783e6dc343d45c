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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestClient_Extract verifies the form request and topic decoding.
func TestClient_Extract(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		r.ParseForm()
		gotForm = map[string]string{
			"algorithm": r.PostForm.Get("algorithm"),
			"text":      r.PostForm.Get("text"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"name":"budget","score":0.8,"offset":[{"start":0,"end":6}]}]`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "")
	got, err := c.Extract(context.Background(), "budget review")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if gotForm["algorithm"] != DefaultAlgorithm || gotForm["text"] != "budget review" {
		t.Errorf("form = %v", gotForm)
	}
	if len(got) != 1 || got[0].Name != "budget" || got[0].Score != 0.8 {
		t.Fatalf("topics = %+v", got)
	}
	if len(got[0].Offsets) != 1 || got[0].Offsets[0].End != 6 {
		t.Errorf("offsets = %v", got[0].Offsets)
	}
}

// TestClient_MalformedResponse verifies non-array bodies are rejected.
func TestClient_MalformedResponse(t *testing.T) {
	for _, body := range []string{`{"error":"busy"}`, `"text"`, ``, `null`} {
		t.Run(body, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer server.Close()

			_, err := NewClient(server.Client(), server.URL, "soa").Extract(context.Background(), "x")
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("err = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

// TestClient_HTTPError verifies non-200 responses fail.
func TestClient_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewClient(server.Client(), server.URL, "soa").Extract(context.Background(), "x")
	if err == nil || errors.Is(err, ErrMalformedResponse) {
		t.Errorf("err = %v, want HTTP error", err)
	}
}
