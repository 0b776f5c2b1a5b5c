package task

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// EffectAction names the direction of a ledgered side effect.
type EffectAction string

const (
	ActionCascade   EffectAction = "cascade"
	ActionUncascade EffectAction = "uncascade"
)

// Opposite returns the action whose ledger entries a successful run of a
// releases.
func (a EffectAction) Opposite() EffectAction {
	if a == ActionCascade {
		return ActionUncascade
	}
	return ActionCascade
}

// EffectKey identifies one idempotent side effect. Presence in the ledger
// means the effect has already been applied.
type EffectKey struct {
	EntityID ID
	Action   EffectAction
	Target   Status
}

// String renders the ledger key: entity:{id}:action:{verb}:{status}.
func (k EffectKey) String() string {
	return fmt.Sprintf("entity:%s:action:%s:%s", k.EntityID, k.Action, k.Target)
}

// Digest returns a fixed-length SHA-256 of the key with domain separation.
// Format: SHA256("cadence/effect/v1" + 0x00 + key)
func (k EffectKey) Digest() string {
	h := sha256.New()
	h.Write([]byte(domainEffect))
	h.Write([]byte{0x00})
	h.Write([]byte(k.String()))
	return hex.EncodeToString(h.Sum(nil))
}

const domainEffect = "cadence/effect/v1"

// ParseEffectKey is the inverse of EffectKey.String.
func ParseEffectKey(s string) (EffectKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 5 || parts[0] != "entity" || parts[2] != "action" {
		return EffectKey{}, fmt.Errorf("malformed effect key %q", s)
	}
	action := EffectAction(parts[3])
	if action != ActionCascade && action != ActionUncascade {
		return EffectKey{}, fmt.Errorf("effect key %q: unknown action %q", s, parts[3])
	}
	status, err := ParseStatus(parts[4])
	if err != nil {
		return EffectKey{}, fmt.Errorf("effect key %q: %w", s, err)
	}
	return EffectKey{EntityID: ID(parts[1]), Action: action, Target: status}, nil
}

// Effect is a ledger row.
type Effect struct {
	Key         EffectKey
	ClaimedAt   time.Time
	CompletedAt time.Time // zero while the claiming wave is still running
}

// Audit event types written by the engine.
const (
	EventUpserted        = "upserted"
	EventInstanceCreated = "instance_created"
	EventCascaded        = "status_cascaded"
	EventUncascaded      = "status_uncascaded"
	EventTemplateCascade = "template_status_cascade"
	EventDeleted         = "deleted"
	EventArchived        = "archived"
)

// LogEntry is an append-only audit record.
type LogEntry struct {
	Seq            int64     `json:"seq"`
	EntityType     Kind      `json:"entityType"`
	EntityID       ID        `json:"entityId"`
	EventType      string    `json:"eventType"`
	OldStatus      Status    `json:"oldStatus,omitempty"`
	NewStatus      Status    `json:"newStatus,omitempty"`
	CausalParentID ID        `json:"causalParentId,omitempty"`
	Message        string    `json:"message,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Transition renders a status change for log messages: "in_progress -> done".
func Transition(from, to Status) string {
	if from == "" {
		from = "none"
	}
	return fmt.Sprintf("%s -> %s", from, to)
}
