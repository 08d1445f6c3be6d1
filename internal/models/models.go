package models

import (
	"time"

	"github.com/google/uuid"
)

// Message types the relay accepts. The server never inspects payloads; the
// type only tells the recipient which client-side decoder to use.
const (
	MessageTypeSignal       = "signal_message"
	MessageTypePreKeySignal = "pre_key_signal_message"
	MessageTypeKeyExchange  = "key_exchange"
)

// User is a registered account. The identity key is the Ed25519 public key
// that signs login challenges and signed pre-keys.
type User struct {
	ID                uuid.UUID `json:"id"`
	Username          string    `json:"username"`
	IdentityPublicKey string    `json:"identity_public_key"` // base64 Ed25519
	RegistrationID    uint32    `json:"registration_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Device is the single active device of a user. Logging in from a new device
// replaces all prior rows for that user in one transaction, which is what
// remotely logs out the old session.
type Device struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	DeviceID          string    `json:"device_id"`
	IdentityPublicKey string    `json:"identity_public_key"`
	RegistrationID    uint32    `json:"registration_id"`
	DeviceName        *string   `json:"device_name,omitempty"`
	FCMToken          *string   `json:"fcm_token,omitempty"`
	LastSeenAt        time.Time `json:"last_seen_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// SignedPreKey is a medium-lived X25519 key authenticated by the owner's
// identity signature. Only the newest N per user are retained.
type SignedPreKey struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	KeyID     uint32    `json:"key_id"`
	PublicKey string    `json:"public_key"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"created_at"`
}

// OneTimePreKey is consumed by exactly one bundle fetch; the row is deleted
// inside the same transaction that returns it.
type OneTimePreKey struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	KeyID     uint32    `json:"key_id"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthChallenge is the nonce a client must sign to log in. At most one
// non-expired row exists per user.
type AuthChallenge struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Nonce     string    `json:"nonce"` // 64 hex chars
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// QueuedMessage is a ciphertext parked for an offline recipient. The payload
// is stored as raw bytes and re-encoded to base64 on the way out.
type QueuedMessage struct {
	ID               uuid.UUID `json:"id"`
	RecipientID      uuid.UUID `json:"recipient_id"`
	SenderID         uuid.UUID `json:"sender_id"`
	EncryptedPayload []byte    `json:"-"`
	MessageType      string    `json:"message_type"`
	FileReference    *string   `json:"file_reference,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// PreKeyBundle is what a sender fetches to run X3DH against an offline
// recipient. The one-time key is absent when the recipient's pool is empty.
type PreKeyBundle struct {
	UserID            uuid.UUID      `json:"user_id"`
	Username          string         `json:"username"`
	RegistrationID    uint32         `json:"registration_id"`
	IdentityPublicKey string         `json:"identity_public_key"`
	SignedPreKey      *SignedPreKey  `json:"signed_pre_key"`
	OneTimePreKey     *OneTimePreKey `json:"one_time_pre_key,omitempty"`
}

// NewMessageEvent is the payload of the `new_message` websocket event.
type NewMessageEvent struct {
	SenderID   string `json:"senderId"`
	Ciphertext string `json:"ciphertext"`
	Type       string `json:"type"`
	Timestamp  string `json:"timestamp"` // ISO 8601
}

// OfflineMessage is the transport shape of a drained queue row.
type OfflineMessage struct {
	ID            uuid.UUID `json:"id"`
	SenderID      uuid.UUID `json:"senderId"`
	Ciphertext    string    `json:"ciphertext"` // base64
	MessageType   string    `json:"type"`
	FileReference *string   `json:"fileReference,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
