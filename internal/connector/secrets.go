package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vaultline/cashops/internal/domain"
)

// LineageConnection.SecretRef never carries a raw credential — it carries
// an opaque reference of the form "vault:connectors/bank_csv/acme" that a
// Resolver turns into the actual fields at connect time. Nothing in this
// package logs, persists, or returns the resolved values outside of a
// Resolve call.

// Resolver turns an opaque secret reference into the field map a connector
// needs to open its source (account, user, password, api_key, ...).
type Resolver interface {
	Resolve(ctx context.Context, ref string) (map[string]string, error)
}

// Redact renders a reference safe for logs and audit trails: it never
// echoes back credential material, only a stable fingerprint of the
// reference string itself, so the same ref redacts the same way twice.
func Redact(ref string) string {
	if ref == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ref))
	return "ref_" + hex.EncodeToString(sum[:])[:12]
}

// VaultConfig points a VaultResolver at a HashiCorp Vault KV mount.
type VaultConfig struct {
	Enabled   bool
	Address   string
	Token     string
	MountPath string
	Namespace string
	CacheTTL  time.Duration
}

type cachedSecret struct {
	value     map[string]string
	expiresAt time.Time
}

// VaultResolver resolves connector.<name> secret references against a
// Vault KV v2 mount, with a short-lived in-process cache so a sync run
// that opens the same connection repeatedly does not hammer Vault.
type VaultResolver struct {
	config VaultConfig
	client *http.Client
	mu     sync.RWMutex
	cache  map[string]cachedSecret
}

// NewVaultResolver constructs a resolver; when cfg.Enabled is false,
// Resolve falls back to an environment variable named after the whole
// reference path, upper-cased with "/" and "-" turned into "_" and a
// "_SECRET" suffix (vault:connectors/bank_csv/acme reads
// CONNECTORS_BANK_CSV_ACME_SECRET), which keeps local development and
// tests working without a Vault instance.
func NewVaultResolver(cfg VaultConfig) *VaultResolver {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &VaultResolver{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		cache:  make(map[string]cachedSecret),
	}
}

// refPath strips a leading "vault:" scheme prefix, if present, to get the
// KV path within the mount.
func refPath(ref string) string {
	return strings.TrimPrefix(ref, "vault:")
}

func (v *VaultResolver) Resolve(ctx context.Context, ref string) (map[string]string, error) {
	path := refPath(ref)

	if !v.config.Enabled {
		envKey := strings.ToUpper(strings.NewReplacer("/", "_", "-", "_").Replace(path)) + "_SECRET"
		if raw := os.Getenv(envKey); raw != "" {
			var fields map[string]string
			if err := json.Unmarshal([]byte(raw), &fields); err == nil {
				return fields, nil
			}
			return map[string]string{"value": raw}, nil
		}
		return nil, &domain.InfrastructureError{Message: fmt.Sprintf("vault disabled and no env var %s for ref %s", envKey, Redact(ref))}
	}

	v.mu.RLock()
	if cached, ok := v.cache[path]; ok && time.Now().Before(cached.expiresAt) {
		v.mu.RUnlock()
		return cached.value, nil
	}
	v.mu.RUnlock()

	fields, err := v.readSecret(ctx, path)
	if err != nil {
		return nil, &domain.InfrastructureError{Message: fmt.Sprintf("resolve secret ref %s", Redact(ref)), Cause: err}
	}

	v.mu.Lock()
	v.cache[path] = cachedSecret{value: fields, expiresAt: time.Now().Add(v.config.CacheTTL)}
	v.mu.Unlock()

	return fields, nil
}

// Invalidate drops a single cached reference, used after key rotation.
func (v *VaultResolver) Invalidate(ref string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cache, refPath(ref))
}

func (v *VaultResolver) readSecret(ctx context.Context, path string) (map[string]string, error) {
	url := fmt.Sprintf("%s/v1/%s/data/%s", v.config.Address, v.config.MountPath, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Vault-Token", v.config.Token)
	if v.config.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", v.config.Namespace)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("secret not found: %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vault error (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	return result.Data.Data, nil
}

// NewSecretRef builds the opaque reference string stored on a
// LineageConnection, e.g. NewSecretRef("bank_csv", "acme-checking").
func NewSecretRef(connectorType, name string) string {
	return fmt.Sprintf("vault:connectors/%s/%s", connectorType, name)
}
