package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/presencechat/internal/credentials"
	"github.com/Tyrowin/presencechat/internal/sanitize"
	"github.com/Tyrowin/presencechat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context) error {
	cfg := server.NewConfigFromEnv()

	store, err := credentials.LoadOrDefault(cfg.CredentialsFile)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	log.WithFields(log.Fields{
		"identities": store.Len(),
		"file":       cfg.CredentialsFile,
	}).Info("Credential store loaded")

	auth := credentials.NewAuthenticator(store, credentials.BcryptVerifier{})
	relay := server.New(cfg, auth, sanitize.NewStrict())
	httpServer := server.CreateServer(relay.Config().Addr(), relay.Handler())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", httpServer.Addr, err)
		}
		return nil
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	// Hijacked WebSocket connections are not tracked by http.Server, so the
	// hub closes them itself.
	shutdownErr := server.ShutdownServer(httpServer, shutdownTimeout)
	if err := relay.Hub().Shutdown(shutdownTimeout); err != nil {
		return errors.Join(shutdownErr, fmt.Errorf("hub shutdown: %w", err))
	}
	return shutdownErr
}
