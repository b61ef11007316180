package respond

import (
	"time"

	"chatty_session_server/internal/model"
)

type CreateSessionRespond struct {
	SessionID string `json:"sessionId"`
}

// SuccessRespond 无返回数据的操作
type SuccessRespond struct {
	Success bool `json:"success"`
}

// SessionRespond 会话状态，控制台轮询二维码使用
type SessionRespond struct {
	SessionID          string     `json:"sessionId"`
	OwnerID            string     `json:"ownerId"`
	TenantID           string     `json:"tenantId"`
	Status             string     `json:"status"`
	PairingArtifact    string     `json:"pairingArtifact,omitempty"`
	PairingExpiresAt   *time.Time `json:"pairingExpiresAt,omitempty"`
	ExternalIdentifier string     `json:"externalIdentifier,omitempty"`
	ConnectedAt        *time.Time `json:"connectedAt,omitempty"`
	LastActiveAt       *time.Time `json:"lastActiveAt,omitempty"`
	DisconnectReason   string     `json:"disconnectReason,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

func NewSessionRespond(s *model.Session) SessionRespond {
	return SessionRespond{
		SessionID:          s.ID,
		OwnerID:            s.OwnerID,
		TenantID:           s.TenantID,
		Status:             string(s.Status),
		PairingArtifact:    s.PairingArtifact,
		PairingExpiresAt:   s.PairingExpiresAt,
		ExternalIdentifier: s.ExternalIdentifier,
		ConnectedAt:        s.ConnectedAt,
		LastActiveAt:       s.LastActiveAt,
		DisconnectReason:   s.DisconnectReason,
		CreatedAt:          s.CreatedAt,
	}
}

type ActiveSessionsRespond struct {
	SessionIDs []string `json:"sessionIds"`
	Count      int      `json:"count"`
}
