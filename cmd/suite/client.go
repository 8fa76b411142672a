package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Maphikza/cardano-community-suite/internal/config"
	"github.com/Maphikza/cardano-community-suite/internal/ipc"
	"github.com/Maphikza/cardano-community-suite/internal/logger"
	"github.com/Maphikza/cardano-community-suite/internal/models"
	"github.com/Maphikza/cardano-community-suite/internal/registry"
	"github.com/Maphikza/cardano-community-suite/internal/sweeper"
)

const callTimeout = 30 * time.Second

// call sends one command to the running server and prints the result.
func call(command string, params any, out any) error {
	client, err := ipc.NewClient(config.Path("ipc_socket"))
	if err != nil {
		return errors.Wrap(err, "error connecting to suite server (is \"serve\" running?)")
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := client.Call(ctx, command, params, out); err != nil {
		return err
	}
	printJSON(out)
	return nil
}

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Issue and inspect challenges",
}

var challengeIssueCmd = &cobra.Command{
	Use:   "issue [community-id]",
	Short: "Issue a new challenge for a community",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, _ := cmd.Flags().GetString("action")
		message, _ := cmd.Flags().GetString("message")
		return call(ipc.CmdIssue, ipc.IssueParams{
			CommunityID:   args[0],
			Action:        action,
			CustomMessage: message,
		}, &models.Challenge{})
	},
}

var challengeShowCmd = &cobra.Command{
	Use:   "show [challenge-id]",
	Short: "Show a challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(ipc.CmdGetChallenge, ipc.IDParams{ID: args[0]}, &models.Challenge{})
	},
}

var challengeValidateCmd = &cobra.Command{
	Use:   "validate [challenge-id]",
	Short: "Report whether a challenge can still be answered",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(ipc.CmdValidate, ipc.IDParams{ID: args[0]}, &models.ChallengeStatus{})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a signed challenge",
	Long: `Verify a signature over a challenge message. The public key and signature may be
hex or base64. With --register the wallet is added to the challenge's community in
the same step.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		p := ipc.VerifyParams{}
		p.ChallengeID, _ = flags.GetString("challenge")
		p.PublicKey, _ = flags.GetString("public-key")
		p.Signature, _ = flags.GetString("signature")
		p.WalletAddress, _ = flags.GetString("wallet")
		p.Register, _ = flags.GetBool("register")
		p.StakeAddress, _ = flags.GetString("stake")
		return call(ipc.CmdVerify, p, &models.VerificationResult{})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a wallet against a verified challenge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		req := registry.RegisterRequest{}
		req.ChallengeID, _ = flags.GetString("challenge")
		req.WalletAddress, _ = flags.GetString("wallet")
		req.CommunityID, _ = flags.GetString("community")
		req.StakeAddress, _ = flags.GetString("stake")
		req.PublicKey, _ = flags.GetString("public-key")
		return call(ipc.CmdRegister, req, &models.RegistryEntry{})
	},
}

var findCmd = &cobra.Command{
	Use:   "find [wallet-address]",
	Short: "Look up a wallet's registrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		community, _ := cmd.Flags().GetString("community")
		var out []*models.RegistryEntry
		return call(ipc.CmdFind, ipc.FindParams{WalletAddress: args[0], CommunityID: community}, &out)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registry entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		community, _ := cmd.Flags().GetString("community")
		status, _ := cmd.Flags().GetString("status")
		var out []*models.RegistryEntry
		return call(ipc.CmdList, ipc.ListParams{CommunityID: community, Status: status}, &out)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(ipc.CmdStats, nil, &models.Statistics{})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report [community-id]",
	Short: "Show a community's membership and stake report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(ipc.CmdReport, ipc.IDParams{ID: args[0]}, &registry.CommunityReport{})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired, unanswered challenges now",
	Long: `Run one sweep through the running server, or with --direct against the configured
store while the server is stopped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		direct, _ := cmd.Flags().GetBool("direct")
		if !direct {
			return call(ipc.CmdSweep, nil, &ipc.SweepResult{})
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		s := sweeper.New(store, 0, config.Duration("sweep_grace", 24*time.Hour), logger.Component("sweeper"))
		n, err := s.RunOnce(context.Background())
		if err != nil {
			return err
		}
		printJSON(ipc.SweepResult{Removed: n})
		return nil
	},
}

func init() {
	challengeIssueCmd.Flags().String("action", "", "action tag embedded in the message")
	challengeIssueCmd.Flags().String("message", "", "custom message to sign instead of the generated one")
	challengeCmd.AddCommand(challengeIssueCmd, challengeShowCmd, challengeValidateCmd)

	vf := verifyCmd.Flags()
	vf.String("challenge", "", "challenge ID")
	vf.String("public-key", "", "Ed25519 public key (hex or base64)")
	vf.String("signature", "", "signature over the challenge message (hex or base64)")
	vf.String("wallet", "", "wallet address claimed by the signer")
	vf.Bool("register", false, "register the wallet when the signature is valid")
	vf.String("stake", "", "stake address to record with the registration")
	for _, name := range []string{"challenge", "public-key", "signature", "wallet"} {
		verifyCmd.MarkFlagRequired(name)
	}

	rf := registerCmd.Flags()
	rf.String("challenge", "", "verified challenge ID")
	rf.String("wallet", "", "wallet address that answered the challenge")
	rf.String("community", "", "community ID")
	rf.String("stake", "", "stake address")
	rf.String("public-key", "", "public key that signed the challenge")
	for _, name := range []string{"challenge", "wallet", "community"} {
		registerCmd.MarkFlagRequired(name)
	}

	findCmd.Flags().String("community", "", "restrict to one community")
	listCmd.Flags().String("community", "", "filter by community")
	listCmd.Flags().String("status", "", "filter by status (verified, pending, suspended)")
	sweepCmd.Flags().Bool("direct", false, "open the store directly instead of asking the server")
}
