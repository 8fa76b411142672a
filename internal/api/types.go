package api

import (
	"github.com/Maphikza/cardano-community-suite/internal/models"
)

// IssueRequest accepts both snake_case and camelCase spellings since browser clients
// send the latter.
type IssueRequest struct {
	CommunityID      string `json:"community_id" validate:"max=128"`
	CommunityIDCamel string `json:"communityId" validate:"max=128"`
	Action           string `json:"action,omitempty" validate:"max=64"`
	CustomMessage    string `json:"custom_message,omitempty" validate:"max=4096"`
	CustomMsgCamel   string `json:"customMessage,omitempty" validate:"max=4096"`
}

func (r *IssueRequest) community() string {
	if r.CommunityID != "" {
		return r.CommunityID
	}
	return r.CommunityIDCamel
}

func (r *IssueRequest) customMessage() string {
	if r.CustomMessage != "" {
		return r.CustomMessage
	}
	return r.CustomMsgCamel
}

type VerifyRequest struct {
	ChallengeID   string `json:"challenge_id" validate:"required"`
	PublicKey     string `json:"public_key" validate:"required"`
	Signature     string `json:"signature" validate:"required"`
	WalletAddress string `json:"wallet_address" validate:"required"`
	// Register enrolls the wallet in the same transaction that consumes the challenge.
	Register     bool   `json:"register,omitempty"`
	StakeAddress string `json:"stake_address,omitempty"`
}

func (r *VerifyRequest) submission() models.Submission {
	return models.Submission{
		ChallengeID:   r.ChallengeID,
		PublicKey:     r.PublicKey,
		Signature:     r.Signature,
		WalletAddress: r.WalletAddress,
	}
}

type BatchVerifyRequest struct {
	Submissions []models.Submission `json:"signatures" validate:"required,min=1,max=100"`
}

type StatusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=verified pending suspended"`
}

type ListResponse struct {
	Total int                     `json:"total"`
	Users []*models.RegistryEntry `json:"users"`
}

type ChallengeListResponse struct {
	Total      int                 `json:"total"`
	Challenges []*models.Challenge `json:"challenges"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    int64  `json:"time"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type contextKey string

const requestIDKey contextKey = "requestID"
