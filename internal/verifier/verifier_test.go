package verifier_test

import (
	"context"
	"encoding/base64"
	"encoding/hex"
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
	"github.com/Maphikza/cardano-community-suite/internal/models"
	"github.com/Maphikza/cardano-community-suite/internal/verifier"
	"github.com/Maphikza/cardano-community-suite/lib/cardano"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store  statedb.Store
	issuer challenge.Issuer
	ver    verifier.Verifier
	audit  audit.Logger
	clock  *clock
	pub    ed25519.PublicKey
	priv   ed25519.PrivateKey
	wallet string
}

func newFixture(t *testing.T, binding bool) *fixture {
	t.Helper()
	store, err := statedb.NewBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := &clock{t: time.Unix(1700000000, 0)}
	auditLog := audit.NewLoggerWithClock(store, clk.now)
	iss, err := challenge.NewIssuer(store, auditLog, challenge.Config{Clock: clk.now}, nil)
	require.NoError(t, err)
	ver, err := verifier.NewVerifier(store, auditLog, verifier.Config{AddressBinding: binding, Clock: clk.now}, nil)
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	wallet, err := cardano.EnterpriseAddress(pub, cardano.Testnet)
	require.NoError(t, err)

	return &fixture{store: store, issuer: iss, ver: ver, audit: auditLog, clock: clk, pub: pub, priv: priv, wallet: wallet}
}

func (f *fixture) issue(t *testing.T, req challenge.IssueRequest) *models.Challenge {
	t.Helper()
	if req.CommunityID == "" {
		req.CommunityID = "cardano-devs-ph"
	}
	c, err := f.issuer.Issue(context.Background(), req)
	require.NoError(t, err)
	return c
}

func (f *fixture) sign(c *models.Challenge) models.Submission {
	return models.Submission{
		ChallengeID:   c.ID,
		PublicKey:     hex.EncodeToString(f.pub),
		Signature:     hex.EncodeToString(ed25519.Sign(f.priv, []byte(c.Message))),
		WalletAddress: f.wallet,
	}
}

func TestVerifyHappyPath(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	c := f.issue(t, challenge.IssueRequest{})

	res, err := f.ver.Verify(ctx, f.sign(c))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Reason)
	assert.Nil(t, res.Entry)

	stored, err := f.store.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Consumed)
	assert.Equal(t, f.wallet, stored.ConsumedBy)
	assert.Equal(t, hex.EncodeToString(f.pub), stored.ConsumedKey)
	assert.False(t, stored.Registered)
}

func TestVerifyReplayIsAlreadyConsumed(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	sub := f.sign(f.issue(t, challenge.IssueRequest{}))

	res, err := f.ver.Verify(ctx, sub)
	require.NoError(t, err)
	require.True(t, res.Valid)

	for i := 0; i < 3; i++ {
		res, err = f.ver.Verify(ctx, sub)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, apperrors.ReasonAlreadyConsumed, res.Reason)
	}
}

func TestVerifyBase64Encoding(t *testing.T) {
	f := newFixture(t, true)
	c := f.issue(t, challenge.IssueRequest{})
	sub := f.sign(c)
	sub.PublicKey = base64.StdEncoding.EncodeToString(f.pub)
	sub.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(f.priv, []byte(c.Message)))

	res, err := f.ver.Verify(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// The consumed key is recorded in one canonical encoding.
	stored, err := f.store.GetChallenge(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(f.pub), stored.ConsumedKey)
}

func TestVerifyCustomMessage(t *testing.T) {
	f := newFixture(t, true)
	c := f.issue(t, challenge.IssueRequest{CustomMessage: "Vote yes on proposal 7"})
	require.Equal(t, "Vote yes on proposal 7", c.Message)

	res, err := f.ver.Verify(context.Background(), f.sign(c))
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestVerifyRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(f *fixture, c *models.Challenge, sub *models.Submission)
		reason string
	}{
		{
			name:   "blank challenge id",
			mutate: func(_ *fixture, _ *models.Challenge, sub *models.Submission) { sub.ChallengeID = " " },
			reason: apperrors.ReasonInvalidArgument,
		},
		{
			name:   "unknown challenge",
			mutate: func(_ *fixture, _ *models.Challenge, sub *models.Submission) { sub.ChallengeID = "nope" },
			reason: apperrors.ReasonNotFound,
		},
		{
			name:   "expired",
			mutate: func(f *fixture, _ *models.Challenge, _ *models.Submission) { f.clock.advance(time.Hour + time.Second) },
			reason: apperrors.ReasonExpired,
		},
		{
			name: "signature by another key",
			mutate: func(f *fixture, c *models.Challenge, sub *models.Submission) {
				_, other, _ := ed25519.GenerateKey(nil)
				sub.Signature = hex.EncodeToString(ed25519.Sign(other, []byte(c.Message)))
			},
			reason: apperrors.ReasonInvalidSignature,
		},
		{
			name: "signature over a different message",
			mutate: func(f *fixture, _ *models.Challenge, sub *models.Submission) {
				sub.Signature = hex.EncodeToString(ed25519.Sign(f.priv, []byte("something else")))
			},
			reason: apperrors.ReasonInvalidSignature,
		},
		{
			name:   "short signature",
			mutate: func(_ *fixture, _ *models.Challenge, sub *models.Submission) { sub.Signature = "abcd" },
			reason: apperrors.ReasonMalformedInput,
		},
		{
			name:   "short public key",
			mutate: func(_ *fixture, _ *models.Challenge, sub *models.Submission) { sub.PublicKey = "00ff" },
			reason: apperrors.ReasonMalformedInput,
		},
		{
			name:   "undecodable signature",
			mutate: func(_ *fixture, _ *models.Challenge, sub *models.Submission) { sub.Signature = "!!not encoded!!" },
			reason: apperrors.ReasonMalformedInput,
		},
		{
			name: "wallet bound to another key",
			mutate: func(_ *fixture, _ *models.Challenge, sub *models.Submission) {
				otherPub, _, _ := ed25519.GenerateKey(nil)
				sub.WalletAddress, _ = cardano.EnterpriseAddress(otherPub, cardano.Testnet)
			},
			reason: apperrors.ReasonAddressMismatch,
		},
		{
			name:   "corrupt shelley address",
			mutate: func(_ *fixture, _ *models.Challenge, sub *models.Submission) { sub.WalletAddress = "addr_test1qqqqqq" },
			reason: apperrors.ReasonMalformedInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			c := f.issue(t, challenge.IssueRequest{})
			sub := f.sign(c)
			tt.mutate(f, c, &sub)

			res, err := f.ver.Verify(ctx, sub)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, tt.reason, res.Reason)

			// Rejections never consume.
			stored, err := f.store.GetChallenge(ctx, c.ID)
			require.NoError(t, err)
			assert.False(t, stored.Consumed)
		})
	}
}

func TestVerifyExpiryIsInclusive(t *testing.T) {
	f := newFixture(t, true)
	c := f.issue(t, challenge.IssueRequest{})
	f.clock.advance(time.Hour)

	res, err := f.ver.Verify(context.Background(), f.sign(c))
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestVerifyAcceptsLegacyAddressAsClaimed(t *testing.T) {
	f := newFixture(t, true)
	sub := f.sign(f.issue(t, challenge.IssueRequest{}))
	sub.WalletAddress = "DdzFFzCqrhsjcfsReoiHddjM1XgUxEuoJ8FjVwFSgLYQ3TMaBzGEdmWkVRqELpaGw"

	res, err := f.ver.Verify(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestVerifyWithoutAddressBinding(t *testing.T) {
	f := newFixture(t, false)
	sub := f.sign(f.issue(t, challenge.IssueRequest{}))
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	sub.WalletAddress, err = cardano.EnterpriseAddress(otherPub, cardano.Testnet)
	require.NoError(t, err)

	res, err := f.ver.Verify(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestConcurrentVerifyHasOneWinner(t *testing.T) {
	f := newFixture(t, true)
	sub := f.sign(f.issue(t, challenge.IssueRequest{}))

	const workers = 16
	var wins, consumed int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ver.Verify(context.Background(), sub)
			if !assert.NoError(t, err) {
				return
			}
			if res.Valid {
				atomic.AddInt32(&wins, 1)
			} else if res.Reason == apperrors.ReasonAlreadyConsumed {
				atomic.AddInt32(&consumed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(workers-1), consumed)
}

func TestVerifyAndRegister(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	c := f.issue(t, challenge.IssueRequest{})

	stakePub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	stake, err := cardano.RewardAddress(stakePub, cardano.Testnet)
	require.NoError(t, err)

	res, err := f.ver.VerifyAndRegister(ctx, f.sign(c), verifier.Enrollment{StakeAddress: stake})
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.NotNil(t, res.Entry)
	assert.Equal(t, f.wallet, res.Entry.WalletAddress)
	assert.Equal(t, stake, res.Entry.StakeAddress)
	assert.Equal(t, c.CommunityID, res.Entry.CommunityID)
	assert.Equal(t, models.StatusVerified, res.Entry.Status)
	assert.Equal(t, hex.EncodeToString(f.pub), res.Entry.PublicKey)

	entry, err := f.store.FindEntry(ctx, f.wallet, c.CommunityID)
	require.NoError(t, err)
	assert.Equal(t, res.Entry.ID, entry.ID)

	stored, err := f.store.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Consumed)
	assert.True(t, stored.Registered)
}

func TestVerifyAndRegisterConflictLeavesChallengeOpen(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	first := f.issue(t, challenge.IssueRequest{})
	res, err := f.ver.VerifyAndRegister(ctx, f.sign(first), verifier.Enrollment{})
	require.NoError(t, err)
	require.True(t, res.Valid)

	second := f.issue(t, challenge.IssueRequest{})
	res, err = f.ver.VerifyAndRegister(ctx, f.sign(second), verifier.Enrollment{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, apperrors.ReasonConflict, res.Reason)

	stored, err := f.store.GetChallenge(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, stored.Consumed)
}

func TestVerifyAndRegisterRejectsBadStakeAddress(t *testing.T) {
	f := newFixture(t, true)
	c := f.issue(t, challenge.IssueRequest{})

	res, err := f.ver.VerifyAndRegister(context.Background(), f.sign(c), verifier.Enrollment{StakeAddress: f.wallet})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, apperrors.ReasonInvalidArgument, res.Reason)
}

func TestVerifyBatch(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	good := f.sign(f.issue(t, challenge.IssueRequest{}))
	bad := f.sign(f.issue(t, challenge.IssueRequest{}))
	bad.Signature = hex.EncodeToString(make([]byte, ed25519.SignatureSize))
	missing := models.Submission{ChallengeID: "missing", WalletAddress: f.wallet}

	out, err := f.ver.VerifyBatch(ctx, []models.Submission{good, bad, missing, good})
	require.NoError(t, err)
	assert.Equal(t, 4, out.Total)
	assert.Equal(t, 1, out.Verified)
	assert.Equal(t, 3, out.Failed)
	require.Len(t, out.Results, 4)
	assert.True(t, out.Results[0].Valid)
	assert.Equal(t, apperrors.ReasonInvalidSignature, out.Results[1].Reason)
	assert.Equal(t, apperrors.ReasonNotFound, out.Results[2].Reason)
	assert.Equal(t, apperrors.ReasonAlreadyConsumed, out.Results[3].Reason)
}

func TestVerifyBatchLimits(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.ver.VerifyBatch(context.Background(), nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))

	_, err = f.ver.VerifyBatch(context.Background(), make([]models.Submission, verifier.MaxBatch+1))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))
}

func TestVerifyWritesAuditTrail(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	sub := f.sign(f.issue(t, challenge.IssueRequest{}))

	_, err := f.ver.Verify(ctx, sub)
	require.NoError(t, err)
	_, err = f.ver.Verify(ctx, sub)
	require.NoError(t, err)

	report, err := f.audit.VerificationLog(ctx, models.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 1, report.ByReason[apperrors.ReasonAlreadyConsumed])
}

type failingStore struct{}

func (failingStore) GetChallenge(context.Context, string) (*models.Challenge, error) {
	return nil, apperrors.Unavailable(errors.New("disk gone"), "get challenge")
}

func (failingStore) ConsumeChallenge(context.Context, statedb.ConsumeRequest) error {
	return nil
}

func TestVerifyStoreOutageIsAnError(t *testing.T) {
	ver, err := verifier.NewVerifier(failingStore{}, nil, verifier.Config{}, nil)
	require.NoError(t, err)

	res, err := ver.Verify(context.Background(), models.Submission{ChallengeID: "x", WalletAddress: "w"})
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, apperrors.ErrUnavailable))
}

func TestUnknownScheme(t *testing.T) {
	_, err := verifier.NewVerifier(failingStore{}, nil, verifier.Config{Scheme: "rsa"}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))
}
