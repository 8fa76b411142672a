package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/Maphikza/cardano-community-suite/internal/announce"
	"github.com/Maphikza/cardano-community-suite/internal/api"
	"github.com/Maphikza/cardano-community-suite/internal/audit"
	"github.com/Maphikza/cardano-community-suite/internal/challenge"
	"github.com/Maphikza/cardano-community-suite/internal/config"
	statedb "github.com/Maphikza/cardano-community-suite/internal/database"
	"github.com/Maphikza/cardano-community-suite/internal/ipc"
	"github.com/Maphikza/cardano-community-suite/internal/logger"
	"github.com/Maphikza/cardano-community-suite/internal/oracle"
	"github.com/Maphikza/cardano-community-suite/internal/registry"
	"github.com/Maphikza/cardano-community-suite/internal/sweeper"
	"github.com/Maphikza/cardano-community-suite/internal/verifier"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and control socket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func openStore() (statedb.Store, error) {
	backend := statedb.DatabaseType(viper.GetString("store_backend"))
	store, err := statedb.InitializeDatabase(backend, config.Path("db_path"))
	if err != nil {
		return nil, errors.Wrapf(err, "open %s store", backend)
	}
	return store, nil
}

func serve() error {
	log := logger.Component("serve")

	store, err := openStore()
	if err != nil {
		return err
	}
	auditLog := audit.NewLogger(store)

	issuer, err := challenge.NewIssuer(store, auditLog, challenge.Config{
		TTL:           config.Duration("challenge_ttl", challenge.DefaultTTL),
		DefaultAction: viper.GetString("default_action"),
	}, logger.Component("issuer"))
	if err != nil {
		store.Close()
		return err
	}

	ver, err := verifier.NewVerifier(store, auditLog, verifier.Config{
		Scheme:         viper.GetString("signature_scheme"),
		AddressBinding: viper.GetBool("address_binding"),
	}, logger.Component("verifier"))
	if err != nil {
		store.Close()
		return err
	}

	stakeOracle := oracle.NewCached(
		oracle.NewKoios(viper.GetString("oracle_url"), config.Duration("oracle_timeout", 10*time.Second), logger.Component("oracle")),
		viper.GetInt("oracle_cache_size"),
		config.Duration("oracle_cache_ttl", 5*time.Minute),
	)

	regOpts := []registry.Option{registry.WithOracle(stakeOracle)}
	var nostrNotifier *announce.Nostr
	if relays := viper.GetStringSlice("nostr_relays"); len(relays) > 0 {
		nostrNotifier, err = announce.NewNostr(relays, viper.GetString("nostr_private_key"), logger.Component("announce"))
		if err != nil {
			store.Close()
			return err
		}
		log.WithField("pubkey", nostrNotifier.PublicKey()).Info("announcing registrations on nostr")
		regOpts = append(regOpts, registry.WithNotifier(nostrNotifier))
		ver = verifier.WithNotifier(ver, nostrNotifier)
	}
	reg := registry.NewRegistry(store, auditLog, logger.Component("registry"), regOpts...)

	sweep := sweeper.New(store,
		config.Duration("sweep_interval", 10*time.Minute),
		config.Duration("sweep_grace", 24*time.Hour),
		logger.Component("sweeper"))
	if err := sweep.Start(); err != nil {
		store.Close()
		return err
	}

	jwtKey, err := api.EnsureJWTKey(config.Path("jwt_keys_dir"))
	if err != nil {
		sweep.Stop()
		store.Close()
		return err
	}

	httpServer := api.NewServer(api.NewAPI(api.Deps{
		Issuer:   issuer,
		Verifier: ver,
		Registry: reg,
		Oracle:   stakeOracle,
		Audit:    auditLog,
		JWTKey:   jwtKey,
		Log:      logger.Component("api"),
	}), api.ServerConfig{
		Port:          viper.GetInt("api_port"),
		AllowedOrigin: viper.GetString("allowed_origin"),
		UseHTTPS:      viper.GetBool("use_https"),
		CertFile:      config.Path("cert_file"),
		KeyFile:       config.Path("key_file"),
	}, logger.Component("http"))

	ipcServer, err := ipc.NewServer(config.Path("ipc_socket"), logger.Component("ipc"))
	if err != nil {
		sweep.Stop()
		store.Close()
		return errors.Wrap(err, "start control socket")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ipcServer.Serve(ctx, ipc.NewHandler(ipc.Services{
		Issuer:   issuer,
		Verifier: ver,
		Registry: reg,
		Sweeper:  sweep,
	}))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	log.WithFields(logrus.Fields{
		"port":    viper.GetInt("api_port"),
		"backend": viper.GetString("store_backend"),
		"socket":  config.Path("ipc_socket"),
	}).Info("cardano community suite running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("shutting down")
	case runErr = <-serveErr:
		if runErr != nil {
			log.WithError(runErr).Error("http server stopped")
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()

	// Drain HTTP and IPC handlers before the store they write to is closed.
	err = multierr.Combine(
		runErr,
		httpServer.Shutdown(shutdownCtx),
		ipcServer.Close(),
		ipcServer.Wait(shutdownCtx),
	)
	cancel()
	sweep.Stop()
	if nostrNotifier != nil {
		nostrNotifier.Wait()
	}
	err = multierr.Append(err, store.Close())
	if err != nil {
		log.WithError(err).Error("shutdown finished with errors")
		return err
	}
	log.Info("shutdown complete")
	return nil
}
