package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
)

// Command names understood by the dispatcher.
const (
	CmdIssue        = "issue"
	CmdGetChallenge = "get_challenge"
	CmdValidate     = "validate"
	CmdVerify       = "verify"
	CmdRegister     = "register"
	CmdFind         = "find"
	CmdList         = "list"
	CmdStats        = "stats"
	CmdReport       = "report"
	CmdSweep        = "sweep"
)

// Command is one request line. Params is command specific.
type Command struct {
	ID      uint64          `json:"id"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	ID     uint64          `json:"id"`
	Error  *Error          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Error carries a taxonomy code across the socket so errors.Is keeps working client-side.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return apperrors.FromReason(e.Code) }

type conn struct {
	net.Conn
	mu sync.Mutex
}

type pending struct {
	conn     *conn
	clientID uint64
}

type Server struct {
	listener    net.Listener
	commands    chan Command
	mutex       sync.Mutex
	connections map[uint64]pending // internal command ID to the client waiting for it
	nextID      uint64
	closed      chan struct{}
	closeOnce   sync.Once
	inflight    sync.WaitGroup // handlers started by Serve; Add only while holding mutex and not closed
	log         *logrus.Entry
}

// Client sends one command at a time; it is not safe for concurrent use.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	nextID uint64
}

type IssueParams struct {
	CommunityID   string `json:"community_id"`
	Action        string `json:"action,omitempty"`
	CustomMessage string `json:"custom_message,omitempty"`
}

type IDParams struct {
	ID string `json:"id"`
}

type VerifyParams struct {
	ChallengeID   string `json:"challenge_id"`
	PublicKey     string `json:"public_key"`
	Signature     string `json:"signature"`
	WalletAddress string `json:"wallet_address"`
	Register      bool   `json:"register,omitempty"`
	StakeAddress  string `json:"stake_address,omitempty"`
}

type FindParams struct {
	WalletAddress string `json:"wallet_address"`
	CommunityID   string `json:"community_id,omitempty"`
}

type ListParams struct {
	CommunityID string `json:"community_id,omitempty"`
	Status      string `json:"status,omitempty"`
}

type SweepResult struct {
	Removed int64 `json:"removed"`
}
