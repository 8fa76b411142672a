package ipc_test

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/audit"
	"github.com/Maphikza/cardano-community-suite/internal/challenge"
	statedb "github.com/Maphikza/cardano-community-suite/internal/database"
	"github.com/Maphikza/cardano-community-suite/internal/ipc"
	"github.com/Maphikza/cardano-community-suite/internal/models"
	"github.com/Maphikza/cardano-community-suite/internal/registry"
	"github.com/Maphikza/cardano-community-suite/internal/sweeper"
	"github.com/Maphikza/cardano-community-suite/internal/verifier"
	"github.com/Maphikza/cardano-community-suite/lib/cardano"
)

func startServer(t *testing.T) string {
	t.Helper()
	store, err := statedb.NewBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	auditLog := audit.NewLogger(store)
	iss, err := challenge.NewIssuer(store, auditLog, challenge.Config{}, nil)
	require.NoError(t, err)
	ver, err := verifier.NewVerifier(store, auditLog, verifier.Config{AddressBinding: true}, nil)
	require.NoError(t, err)

	socket := filepath.Join(t.TempDir(), "suite.sock")
	server, err := ipc.NewServer(socket, nil)
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go server.Serve(ctx, ipc.NewHandler(ipc.Services{
		Issuer:   iss,
		Verifier: ver,
		Registry: registry.NewRegistry(store, auditLog, nil),
		Sweeper:  sweeper.New(store, time.Minute, 0, nil),
	}))
	return socket
}

func dial(t *testing.T, socket string) *ipc.Client {
	t.Helper()
	client, err := ipc.NewClient(socket)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func callCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestIssueVerifyRegisterOverSocket(t *testing.T) {
	socket := startServer(t)
	client := dial(t, socket)
	ctx := callCtx(t)

	var ch models.Challenge
	require.NoError(t, client.Call(ctx, ipc.CmdIssue, ipc.IssueParams{CommunityID: "stake-pool-ops"}, &ch))
	assert.NotEmpty(t, ch.ID)
	assert.Equal(t, "stake-pool-ops", ch.CommunityID)

	var status models.ChallengeStatus
	require.NoError(t, client.Call(ctx, ipc.CmdValidate, ipc.IDParams{ID: ch.ID}, &status))
	assert.True(t, status.Valid)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	wallet, err := cardano.EnterpriseAddress(pub, cardano.Testnet)
	require.NoError(t, err)

	var res models.VerificationResult
	require.NoError(t, client.Call(ctx, ipc.CmdVerify, ipc.VerifyParams{
		ChallengeID:   ch.ID,
		PublicKey:     hex.EncodeToString(pub),
		Signature:     hex.EncodeToString(ed25519.Sign(priv, []byte(ch.Message))),
		WalletAddress: wallet,
		Register:      true,
	}, &res))
	require.True(t, res.Valid, res.Reason)
	require.NotNil(t, res.Entry)

	var found []*models.RegistryEntry
	require.NoError(t, client.Call(ctx, ipc.CmdFind, ipc.FindParams{WalletAddress: wallet}, &found))
	require.Len(t, found, 1)
	assert.Equal(t, "stake-pool-ops", found[0].CommunityID)

	var stats models.Statistics
	require.NoError(t, client.Call(ctx, ipc.CmdStats, nil, &stats))
	assert.Equal(t, 1, stats.Total)

	// A second submission of the same signature is a protocol outcome, not a transport error.
	require.NoError(t, client.Call(ctx, ipc.CmdVerify, ipc.VerifyParams{
		ChallengeID:   ch.ID,
		PublicKey:     hex.EncodeToString(pub),
		Signature:     hex.EncodeToString(ed25519.Sign(priv, []byte(ch.Message))),
		WalletAddress: wallet,
	}, &res))
	assert.False(t, res.Valid)
	assert.Equal(t, apperrors.ReasonAlreadyConsumed, res.Reason)
}

func TestRemoteErrorsKeepTheirKind(t *testing.T) {
	client := dial(t, startServer(t))
	ctx := callCtx(t)

	err := client.Call(ctx, ipc.CmdGetChallenge, ipc.IDParams{ID: "missing"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	err = client.Call(ctx, ipc.CmdIssue, ipc.IssueParams{}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))

	err = client.Call(ctx, "launch_rockets", nil, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))

	err = client.Call(ctx, ipc.CmdRegister, registry.RegisterRequest{
		WalletAddress: "addr_test1vq", ChallengeID: "missing", CommunityID: "c",
	}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	var sweep ipc.SweepResult
	require.NoError(t, client.Call(ctx, ipc.CmdSweep, nil, &sweep))
	assert.Zero(t, sweep.Removed)
}

func TestConcurrentClientsGetTheirOwnResponses(t *testing.T) {
	socket := startServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client, err := ipc.NewClient(socket)
			if !assert.NoError(t, err) {
				return
			}
			defer client.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			community := []string{"alpha", "beta"}[i%2]
			for j := 0; j < 5; j++ {
				var ch models.Challenge
				if !assert.NoError(t, client.Call(ctx, ipc.CmdIssue, ipc.IssueParams{CommunityID: community}, &ch)) {
					return
				}
				assert.Equal(t, community, ch.CommunityID)
			}
		}(i)
	}
	wg.Wait()
}

func TestWaitBlocksUntilRunningHandlersReturn(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "suite.sock")
	server, err := ipc.NewServer(socket, nil)
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go server.Serve(ctx, func(context.Context, ipc.Command) (any, error) {
		close(started)
		<-release
		finished.Store(true)
		return "done", nil
	})

	client := dial(t, socket)
	go client.Call(callCtx(t), ipc.CmdStats, nil, nil)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}
	require.NoError(t, server.Close())

	short, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	assert.Error(t, server.Wait(short), "handler is still running")
	assert.False(t, finished.Load())

	close(release)
	require.NoError(t, server.Wait(callCtx(t)))
	assert.True(t, finished.Load())
}

func TestWaitWithNoHandlers(t *testing.T) {
	server, err := ipc.NewServer(filepath.Join(t.TempDir(), "suite.sock"), nil)
	require.NoError(t, err)
	require.NoError(t, server.Close())
	assert.NoError(t, server.Wait(callCtx(t)))
}
