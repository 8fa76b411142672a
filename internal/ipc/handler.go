package ipc

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/challenge"
	"github.com/Maphikza/cardano-community-suite/internal/models"
	"github.com/Maphikza/cardano-community-suite/internal/registry"
	"github.com/Maphikza/cardano-community-suite/internal/verifier"
)

// Handler answers one command. The returned value is marshalled as the response result.
type Handler func(ctx context.Context, cmd Command) (any, error)

type Sweeper interface {
	RunOnce(ctx context.Context) (int64, error)
}

// Services are the components reachable over the socket. Sweeper may be nil.
type Services struct {
	Issuer   challenge.Issuer
	Verifier verifier.Verifier
	Registry registry.Registry
	Sweeper  Sweeper
}

// NewHandler routes commands to svc.
func NewHandler(svc Services) Handler {
	return func(ctx context.Context, cmd Command) (any, error) {
		switch cmd.Command {
		case CmdIssue:
			var p IssueParams
			if err := decodeParams(cmd, &p); err != nil {
				return nil, err
			}
			return svc.Issuer.Issue(ctx, challenge.IssueRequest{
				CommunityID:   p.CommunityID,
				Action:        p.Action,
				CustomMessage: p.CustomMessage,
			})

		case CmdGetChallenge:
			var p IDParams
			if err := decodeParams(cmd, &p); err != nil {
				return nil, err
			}
			return svc.Issuer.Get(ctx, p.ID)

		case CmdValidate:
			var p IDParams
			if err := decodeParams(cmd, &p); err != nil {
				return nil, err
			}
			return svc.Issuer.Validate(ctx, p.ID)

		case CmdVerify:
			var p VerifyParams
			if err := decodeParams(cmd, &p); err != nil {
				return nil, err
			}
			sub := models.Submission{
				ChallengeID:   p.ChallengeID,
				PublicKey:     p.PublicKey,
				Signature:     p.Signature,
				WalletAddress: p.WalletAddress,
			}
			if !p.Register {
				return svc.Verifier.Verify(ctx, sub)
			}
			ch, err := svc.Issuer.Get(ctx, p.ChallengeID)
			if err != nil {
				if errors.Is(err, apperrors.ErrNotFound) {
					return &models.VerificationResult{ChallengeID: p.ChallengeID, Reason: apperrors.ReasonNotFound}, nil
				}
				return nil, err
			}
			return svc.Verifier.VerifyAndRegister(ctx, sub, verifier.Enrollment{
				CommunityID:  ch.CommunityID,
				StakeAddress: p.StakeAddress,
			})

		case CmdRegister:
			var p registry.RegisterRequest
			if err := decodeParams(cmd, &p); err != nil {
				return nil, err
			}
			return svc.Registry.Register(ctx, p)

		case CmdFind:
			var p FindParams
			if err := decodeParams(cmd, &p); err != nil {
				return nil, err
			}
			return svc.Registry.Find(ctx, p.WalletAddress, p.CommunityID)

		case CmdList:
			var p ListParams
			if err := decodeParams(cmd, &p); err != nil {
				return nil, err
			}
			return svc.Registry.List(ctx, models.EntryFilter{CommunityID: p.CommunityID, Status: p.Status})

		case CmdStats:
			return svc.Registry.Statistics(ctx)

		case CmdReport:
			var p IDParams
			if err := decodeParams(cmd, &p); err != nil {
				return nil, err
			}
			return svc.Registry.CommunityReport(ctx, p.ID)

		case CmdSweep:
			if svc.Sweeper == nil {
				return nil, errors.Wrap(apperrors.ErrUnavailable, "sweeper not running")
			}
			n, err := svc.Sweeper.RunOnce(ctx)
			if err != nil {
				return nil, err
			}
			return SweepResult{Removed: n}, nil

		default:
			return nil, errors.Wrapf(apperrors.ErrInvalidArgument, "unknown command %q", cmd.Command)
		}
	}
}

func decodeParams(cmd Command, v any) error {
	if len(cmd.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(cmd.Params, v); err != nil {
		return errors.Wrapf(apperrors.ErrMalformedInput, "params for %s: %v", cmd.Command, err)
	}
	return nil
}
