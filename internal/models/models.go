package models

// Entry statuses.
const (
	StatusVerified  = "verified"
	StatusPending   = "pending"
	StatusSuspended = "suspended"
)

// DefaultAction is the action tag used when the caller does not name one.
const DefaultAction = "verify_membership"

// Challenge is a single-use signing request. Everything except the consumption fields and
// the Registered flag is fixed at creation; those flip at most once.
type Challenge struct {
	ID          string `json:"challenge_id"`
	CommunityID string `json:"community_id"`
	Action      string `json:"action"`
	Nonce       string `json:"nonce"`
	Message     string `json:"message"`
	IssuedAt    int64  `json:"issued_at"`
	Expiry      int64  `json:"expiry"`
	Consumed    bool   `json:"consumed"`
	ConsumedBy  string `json:"consumed_by,omitempty"`
	ConsumedAt  int64  `json:"consumed_at,omitempty"`
	ConsumedKey string `json:"consumed_key,omitempty"` // hex public key whose signature consumed it
	Registered  bool   `json:"registered"`
}

// ExpiredAt reports whether the challenge is past its expiry at unix second now.
func (c *Challenge) ExpiredAt(now int64) bool {
	return now > c.Expiry
}

// ChallengeStatus is the read-only view returned by the validate operation.
type ChallengeStatus struct {
	ChallengeID   string `json:"challenge_id"`
	Valid         bool   `json:"valid"`
	Expired       bool   `json:"expired"`
	Consumed      bool   `json:"consumed"`
	TimeRemaining int64  `json:"time_remaining"`
}

type ChallengeFilter struct {
	CommunityID     string
	IncludeConsumed bool
	Limit           int
}

// Submission is a signed answer to a challenge. PublicKey and Signature are hex or base64.
type Submission struct {
	ChallengeID   string `json:"challenge_id"`
	PublicKey     string `json:"public_key"`
	Signature     string `json:"signature"`
	WalletAddress string `json:"wallet_address"`
}

type VerificationResult struct {
	ChallengeID string         `json:"challenge_id"`
	Valid       bool           `json:"valid"`
	Reason      string         `json:"reason,omitempty"`
	Entry       *RegistryEntry `json:"entry,omitempty"`
}

type BatchResult struct {
	Total    int                   `json:"total"`
	Verified int                   `json:"verified"`
	Failed   int                   `json:"failed"`
	Results  []*VerificationResult `json:"results"`
}

type RegistryEntry struct {
	ID            string `json:"id"`
	WalletAddress string `json:"wallet_address"`
	StakeAddress  string `json:"stake_address,omitempty"`
	CommunityID   string `json:"community_id"`
	ChallengeID   string `json:"challenge_id"`
	PublicKey     string `json:"public_key,omitempty"`
	Status        string `json:"status"`
	VerifiedAt    int64  `json:"verified_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

type EntryFilter struct {
	CommunityID   string
	Status        string
	WalletAddress string
}

// Statistics is computed from the current entry set on every call.
type Statistics struct {
	Total            int            `json:"total_users"`
	Verified         int            `json:"verified"`
	Pending          int            `json:"pending"`
	Suspended        int            `json:"suspended"`
	TotalCommunities int            `json:"total_communities"`
	PerCommunity     map[string]int `json:"communities"`
	Communities      []string       `json:"community_ids"`
}

type StakeInfo struct {
	StakeAddress  string  `json:"stake_address"`
	Amount        uint64  `json:"amount"`
	AmountADA     float64 `json:"amount_ada"`
	DelegatedPool string  `json:"delegated_pool,omitempty"`
	Rewards       uint64  `json:"rewards"`
	Status        string  `json:"status,omitempty"`
	FetchedAt     int64   `json:"fetched_at"`
}

// Audit operations.
const (
	OpIssue    = "issue"
	OpVerify   = "verify"
	OpRegister = "register"
	OpStatus   = "status_update"
	OpDelete   = "delete"
)

type AuditEvent struct {
	ID            string `json:"id"`
	Operation     string `json:"operation"`
	ChallengeID   string `json:"challenge_id,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	CommunityID   string `json:"community_id,omitempty"`
	Success       bool   `json:"success"`
	Reason        string `json:"reason,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

type AuditFilter struct {
	Operation   string
	CommunityID string
	Since       int64
	Until       int64
	Limit       int
}
