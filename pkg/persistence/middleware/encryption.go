package middleware

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/ports"
)

// encMagic prefixes encrypted payloads so plaintext snapshots written
// before encryption was enabled still load.
var encMagic = []byte("SKE1")

// ErrDecryptFailed is returned when no configured key decrypts a snapshot.
var ErrDecryptFailed = errors.New("snapshot decryption failed with all keys")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.SnapshotStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts the snapshot
// game state with AES-GCM. The snapshot envelope (trigger, timestamp,
// checksum) stays readable for operations; only the session payload is
// opaque at rest. The checksum is computed over plaintext by the
// durability layer, so integrity verification still works after decrypt.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) SaveStateSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	ciphertext, err := encrypt(snapshot.GameState, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("encrypt snapshot: %w", err)
	}

	sealed := snapshot
	sealed.GameState = append(append([]byte(nil), encMagic...), ciphertext...)
	return m.next.SaveStateSnapshot(ctx, sealed)
}

func (m *encryptionMiddleware) GetLatestStateSnapshot(ctx context.Context, interactionID string) (domain.Snapshot, error) {
	snapshot, err := m.next.GetLatestStateSnapshot(ctx, interactionID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	if !bytes.HasPrefix(snapshot.GameState, encMagic) {
		// Written before encryption was enabled.
		return snapshot, nil
	}
	ciphertext := snapshot.GameState[len(encMagic):]

	keys := append([][]byte{m.config.ActiveKey}, m.config.FallbackKeys...)
	for _, key := range keys {
		plaintext, err := decrypt(ciphertext, key)
		if err == nil {
			snapshot.GameState = plaintext
			return snapshot, nil
		}
	}
	return domain.Snapshot{}, fmt.Errorf("%w: interaction %s", ErrDecryptFailed, interactionID)
}

func (m *encryptionMiddleware) SaveEventLog(ctx context.Context, entry ports.EventLogEntry) error {
	return m.next.SaveEventLog(ctx, entry)
}

func (m *encryptionMiddleware) SaveTurnRecord(ctx context.Context, interactionID string, record domain.TurnRecord) error {
	return m.next.SaveTurnRecord(ctx, interactionID, record)
}

func (m *encryptionMiddleware) UpdateInteractionStatus(ctx context.Context, interactionID string, status domain.Status, extra map[string]any) error {
	return m.next.UpdateInteractionStatus(ctx, interactionID, status, extra)
}

func (m *encryptionMiddleware) ListInteractions(ctx context.Context) ([]string, error) {
	return m.next.ListInteractions(ctx)
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(data) < gcm.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
