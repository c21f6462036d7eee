package msgsync

import "github.com/hupe1980/sessionmesh/core"

// ToEngineMessage converts a stored message into the engine-internal shape.
// The conversion is lossless for id, role, content, timestamp and metadata
// so a later FromEngineMessage round-trip reproduces the stored record.
func ToEngineMessage(msg *core.Message) core.EngineMessage {
	em := core.EngineMessage{
		ID:        msg.ID,
		Role:      msg.Role,
		Content:   msg.Content,
		Timestamp: msg.Created,
	}
	if msg.Metadata != nil {
		em.Metadata = make(map[string]string, len(msg.Metadata))
		for k, v := range msg.Metadata {
			em.Metadata[k] = v
		}
	}
	return em
}

// FromEngineMessage converts an engine-internal message back to the stored
// shape. Ids are preserved so re-synchronization is idempotent.
func FromEngineMessage(sessionID string, em core.EngineMessage) *core.Message {
	msg := &core.Message{
		ID:        em.ID,
		SessionID: sessionID,
		Role:      em.Role,
		Content:   em.Content,
		Created:   em.Timestamp,
	}
	if em.Metadata != nil {
		msg.Metadata = make(map[string]string, len(em.Metadata))
		for k, v := range em.Metadata {
			msg.Metadata[k] = v
		}
	}
	return msg
}
