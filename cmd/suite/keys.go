package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/Maphikza/cardano-community-suite/internal/config"
	"github.com/Maphikza/cardano-community-suite/internal/ipc"
	"github.com/Maphikza/cardano-community-suite/internal/models"
	"github.com/Maphikza/cardano-community-suite/lib/cardano"
	"github.com/Maphikza/cardano-community-suite/lib/keys"
	"github.com/Maphikza/cardano-community-suite/lib/signature"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create or restore a member signing key",
	Long: `Create a new Ed25519 signing key from a fresh 24-word mnemonic, or restore one
with --mnemonic. The key is written to --out, encrypted when --password is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		out, _ := flags.GetString("out")
		password, _ := flags.GetString("password")
		mnemonic, _ := flags.GetString("mnemonic")
		copyMnemonic, _ := flags.GetBool("copy")
		if ask, _ := flags.GetBool("ask-password"); ask {
			var err error
			if password, err = readPassword("Enter a password to encrypt the key file: "); err != nil {
				return err
			}
		}

		var (
			kp  *keys.KeyPair
			err error
		)
		if mnemonic != "" {
			kp, err = keys.FromMnemonic(mnemonic, "")
		} else {
			kp, err = keys.Generate("")
		}
		if err != nil {
			return err
		}

		address, err := cardano.EnterpriseAddress(kp.PublicKey, cardano.NetworkByName(viper.GetString("network")))
		if err != nil {
			return errors.Wrap(err, "derive address")
		}
		if err := kp.Save(out, password, address); err != nil {
			return err
		}

		result := struct {
			KeyFile   string `json:"key_file"`
			PublicKey string `json:"public_key"`
			Address   string `json:"address"`
			Mnemonic  string `json:"mnemonic,omitempty"`
		}{
			KeyFile:   out,
			PublicKey: hex.EncodeToString(kp.PublicKey),
			Address:   address,
		}
		if copyMnemonic {
			if err := clipboard.WriteAll(kp.Mnemonic); err != nil {
				return errors.Wrap(err, "copy mnemonic to clipboard")
			}
			fmt.Fprintln(os.Stderr, "Mnemonic copied to clipboard. Store it somewhere safe.")
		} else {
			result.Mnemonic = kp.Mnemonic
		}
		printJSON(result)
		return nil
	},
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a challenge with a member key",
	Long: `Sign a challenge message with the key in --key. The challenge is fetched from the
running server by --challenge; use --message to sign text directly instead.
With --submit the signature is sent for verification.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		keyFile, _ := flags.GetString("key")
		password, _ := flags.GetString("password")
		challengeID, _ := flags.GetString("challenge")
		message, _ := flags.GetString("message")
		submit, _ := flags.GetBool("submit")
		register, _ := flags.GetBool("register")
		stake, _ := flags.GetString("stake")
		copySig, _ := flags.GetBool("copy")
		if ask, _ := flags.GetBool("ask-password"); ask {
			var err error
			if password, err = readPassword("Key file password: "); err != nil {
				return err
			}
		}

		kp, file, err := keys.Load(keyFile, password)
		if err != nil {
			return err
		}
		wallet := file.Address
		if wallet == "" {
			wallet, err = cardano.EnterpriseAddress(kp.PublicKey, cardano.NetworkByName(viper.GetString("network")))
			if err != nil {
				return err
			}
		}

		if challengeID == "" && message == "" {
			return errors.New("one of --challenge or --message is required")
		}

		var client *ipc.Client
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if challengeID != "" {
			client, err = ipc.NewClient(config.Path("ipc_socket"))
			if err != nil {
				return errors.Wrap(err, "error connecting to suite server")
			}
			defer client.Close()
			var ch models.Challenge
			if err := client.Call(ctx, ipc.CmdGetChallenge, ipc.IDParams{ID: challengeID}, &ch); err != nil {
				return err
			}
			message = ch.Message
		}

		sub := models.Submission{
			ChallengeID:   challengeID,
			PublicKey:     hex.EncodeToString(kp.PublicKey),
			Signature:     hex.EncodeToString(kp.Sign([]byte(message))),
			WalletAddress: wallet,
		}
		if copySig {
			if err := clipboard.WriteAll(sub.Signature); err != nil {
				return errors.Wrap(err, "copy signature to clipboard")
			}
			fmt.Fprintln(os.Stderr, "Signature copied to clipboard.")
		}
		if !submit {
			printJSON(sub)
			return nil
		}
		if client == nil {
			return errors.New("--submit needs --challenge")
		}

		var res models.VerificationResult
		err = client.Call(ctx, ipc.CmdVerify, ipc.VerifyParams{
			ChallengeID:   sub.ChallengeID,
			PublicKey:     sub.PublicKey,
			Signature:     sub.Signature,
			WalletAddress: sub.WalletAddress,
			Register:      register,
			StakeAddress:  stake,
		}, &res)
		if err != nil {
			return err
		}
		printJSON(res)
		return nil
	},
}

var addressCmd = &cobra.Command{
	Use:   "address [public-key] [stake-public-key]",
	Short: "Derive Cardano addresses for a public key",
	Long: `Print the enterprise address for a payment public key. With a stake public key
the base address and the reward (stake) address are printed as well.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		network := cardano.NetworkByName(viper.GetString("network"))
		pub, err := decodeKey(args[0])
		if err != nil {
			return err
		}

		result := map[string]string{}
		if result["enterprise"], err = cardano.EnterpriseAddress(pub, network); err != nil {
			return err
		}
		if len(args) == 2 {
			stakePub, err := decodeKey(args[1])
			if err != nil {
				return err
			}
			if result["base"], err = cardano.BaseAddress(pub, stakePub, network); err != nil {
				return err
			}
			if result["stake"], err = cardano.RewardAddress(stakePub, network); err != nil {
				return err
			}
		}
		printJSON(result)
		return nil
	},
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "error reading password")
	}
	return strings.TrimSpace(string(b)), nil
}

func decodeKey(s string) ([]byte, error) {
	b, err := signature.DecodeBytes(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, errors.Errorf("public key must be 32 bytes, got %d", len(b))
	}
	return b, nil
}

func init() {
	kf := keygenCmd.Flags()
	kf.StringP("out", "o", "member.key", "where to write the key file")
	kf.StringP("password", "p", "", "encrypt the key file with this password")
	kf.String("mnemonic", "", "restore from an existing 24-word mnemonic")
	kf.Bool("copy", false, "copy the mnemonic to the clipboard instead of printing it")
	kf.Bool("ask-password", false, "prompt for the password instead of passing it on the command line")

	sf := signCmd.Flags()
	sf.StringP("key", "k", "member.key", "key file written by keygen")
	sf.StringP("password", "p", "", "key file password")
	sf.String("challenge", "", "challenge ID to fetch and sign")
	sf.String("message", "", "sign this text instead of a challenge")
	sf.Bool("submit", false, "send the signature for verification")
	sf.Bool("register", false, "with --submit, register the wallet on success")
	sf.String("stake", "", "with --register, stake address to record")
	sf.Bool("copy", false, "copy the signature to the clipboard")
	sf.Bool("ask-password", false, "prompt for the key file password")
}
