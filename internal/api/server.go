package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/Maphikza/cardano-community-suite/internal/logger"
	"github.com/Maphikza/cardano-community-suite/lib/utils"
)

type ServerConfig struct {
	Port          int
	AllowedOrigin string
	UseHTTPS      bool
	CertFile      string
	KeyFile       string
}

type Server struct {
	cfg  ServerConfig
	http *http.Server
	log  *logrus.Entry
}

func NewServer(a *API, cfg ServerConfig, log *logrus.Entry) *Server {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      c.Handler(a.Router()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if cfg.UseHTTPS {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
			CipherSuites: []uint16{
				tls.TLS_AES_128_GCM_SHA256,
				tls.TLS_AES_256_GCM_SHA384,
				tls.TLS_CHACHA20_POLY1305_SHA256,
			},
		}
	}
	return &Server{cfg: cfg, http: srv, log: logger.OrDiscard(log)}
}

// Handler exposes the full handler chain, CORS included.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	var err error
	if s.cfg.UseHTTPS {
		if genErr := utils.GenerateSelfSignedCert(s.cfg.CertFile, s.cfg.KeyFile); genErr != nil {
			ln.Close()
			return genErr
		}
		s.log.WithField("addr", ln.Addr().String()).Info("starting HTTPS server")
		err = s.http.ServeTLS(ln, s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		s.log.WithField("addr", ln.Addr().String()).Info("starting HTTP server")
		err = s.http.Serve(ln)
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
