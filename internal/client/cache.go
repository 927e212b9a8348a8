package client

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache errors.
var (
	// ErrCacheMiss means no usable cached validation exists.
	ErrCacheMiss = errors.New("no cached license state")
	// ErrCacheTampered means the file failed signature verification. Treated
	// the same as a miss by callers, but surfaced separately for logging.
	ErrCacheTampered = errors.New("cached license state failed verification")
	// ErrCacheStale means the cached validation is older than the offline
	// window.
	ErrCacheStale = errors.New("cached license state expired")
)

const cacheFileName = "license.json"

// CachedState is the last successful validation, persisted so the
// application keeps working through short server outages.
type CachedState struct {
	LicenseKey  string    `json:"license_key"`
	LicenseType string    `json:"license_type"`
	Message     string    `json:"message,omitempty"`
	ValidatedAt time.Time `json:"validated_at"`
}

type cacheEnvelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// Cache persists the last good validation, signed with a machine-bound key so
// copying the file to another machine or editing it invalidates it.
type Cache struct {
	path          string
	key           []byte
	offlineWindow time.Duration
}

// NewCache creates a cache rooted at dir. The machine fingerprint keys the
// signature, which binds the file to this machine.
func NewCache(dir, machineFingerprint string, offlineWindow time.Duration) *Cache {
	mac := hmac.New(sha256.New, []byte("vidttool-cache-v1"))
	mac.Write([]byte(machineFingerprint))
	return &Cache{
		path:          filepath.Join(dir, cacheFileName),
		key:           mac.Sum(nil),
		offlineWindow: offlineWindow,
	}
}

// Save writes the state atomically.
func (c *Cache) Save(state CachedState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}

	env := cacheEnvelope{
		Payload:   payload,
		Signature: c.sign(payload),
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache envelope: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// Load returns the cached state if it verifies and is within the offline
// window as of now.
func (c *Cache) Load(now time.Time) (*CachedState, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	var env cacheEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrCacheTampered
	}
	if !hmac.Equal([]byte(c.sign(env.Payload)), []byte(env.Signature)) {
		return nil, ErrCacheTampered
	}

	var state CachedState
	if err := json.Unmarshal(env.Payload, &state); err != nil {
		return nil, ErrCacheTampered
	}

	if c.offlineWindow > 0 && now.Sub(state.ValidatedAt) > c.offlineWindow {
		return nil, ErrCacheStale
	}
	return &state, nil
}

// Clear removes the cached state. A revoked license must not keep working
// offline.
func (c *Cache) Clear() error {
	err := os.Remove(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (c *Cache) sign(payload []byte) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
