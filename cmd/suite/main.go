package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Maphikza/cardano-community-suite/internal/config"
	"github.com/Maphikza/cardano-community-suite/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "cardano-suite",
	Short: "Cardano community verification suite",
	Long: `Issues signing challenges to Cardano wallets, verifies the Ed25519 signatures
they return and keeps a registry of verified community members.

Run "cardano-suite serve" to start the HTTP API and the local control socket; the
other commands talk to a running server over that socket.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(challengeCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(tokenCmd)
}

func initConfig() {
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	if err := logger.Init(config.Path("log_file"), viper.GetString("log_level")); err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logger.Cleanup()
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
	}
}
