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

package vault

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/hashicorp/vault/api"
)

// TransitConfig configures the Vault transit client.
type TransitConfig struct {
	Address  string
	Mount    string // defaults to "transit"
	RoleID   string
	SecretID string
}

// TransitClient talks to Vault's transit secrets engine.
type TransitClient struct {
	client   *api.Client
	mount    string
	roleID   string
	secretID string
}

// NewTransitClient creates a transit client. Call Login before use.
func NewTransitClient(cfg TransitConfig) (*TransitClient, error) {
	vc := api.DefaultConfig()
	if cfg.Address != "" {
		vc.Address = cfg.Address
	}
	client, err := api.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "transit"
	}

	return &TransitClient{
		client:   client,
		mount:    mount,
		roleID:   cfg.RoleID,
		secretID: cfg.SecretID,
	}, nil
}

// Login performs an AppRole login and stores the client token.
func (c *TransitClient) Login(ctx context.Context) error {
	secret, err := c.client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
		"role_id":   c.roleID,
		"secret_id": c.secretID,
	})
	if err != nil {
		return fmt.Errorf("approle login: %w", err)
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return fmt.Errorf("approle login: no client token returned")
	}

	c.client.SetToken(secret.Auth.ClientToken)
	slog.Info("vault approle login succeeded")
	return nil
}

// Encrypt encrypts a batch of plaintexts. Empty inputs map to empty
// outputs without being sent.
func (c *TransitClient) Encrypt(ctx context.Context, key string, plaintexts []string) ([]string, error) {
	return c.batch(ctx, "encrypt", key, plaintexts, func(s string) map[string]interface{} {
		return map[string]interface{}{"plaintext": base64.StdEncoding.EncodeToString([]byte(s))}
	}, func(item map[string]interface{}) (string, error) {
		ct, _ := item["ciphertext"].(string)
		return ct, nil
	})
}

// Decrypt decrypts a batch of ciphertexts. Empty inputs map to empty
// outputs without being sent.
func (c *TransitClient) Decrypt(ctx context.Context, key string, ciphertexts []string) ([]string, error) {
	return c.batch(ctx, "decrypt", key, ciphertexts, func(s string) map[string]interface{} {
		return map[string]interface{}{"ciphertext": s}
	}, func(item map[string]interface{}) (string, error) {
		encoded, _ := item["plaintext"].(string)
		plain, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return "", fmt.Errorf("decode plaintext: %w", err)
		}
		return string(plain), nil
	})
}

func (c *TransitClient) batch(
	ctx context.Context,
	op, key string,
	inputs []string,
	encode func(string) map[string]interface{},
	decode func(map[string]interface{}) (string, error),
) ([]string, error) {
	out := make([]string, len(inputs))

	var batch []interface{}
	var positions []int
	for i, in := range inputs {
		if in == "" {
			continue
		}
		batch = append(batch, encode(in))
		positions = append(positions, i)
	}
	if len(batch) == 0 {
		return out, nil
	}

	path := fmt.Sprintf("%s/%s/%s", c.mount, op, key)
	secret, err := c.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"batch_input": batch,
	})
	if err != nil {
		return nil, fmt.Errorf("transit %s: %w", op, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("transit %s: empty response", op)
	}

	results, ok := secret.Data["batch_results"].([]interface{})
	if !ok || len(results) != len(batch) {
		return nil, fmt.Errorf("transit %s: expected %d batch results", op, len(batch))
	}

	for i, raw := range results {
		item, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("transit %s: malformed batch result %d", op, i)
		}
		if msg, _ := item["error"].(string); msg != "" {
			return nil, fmt.Errorf("transit %s: item %d: %s", op, i, msg)
		}
		v, err := decode(item)
		if err != nil {
			return nil, fmt.Errorf("transit %s: item %d: %w", op, i, err)
		}
		out[positions[i]] = v
	}
	return out, nil
}
