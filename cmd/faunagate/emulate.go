package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/faunagate/adapters/fauna"
	"github.com/artpar/faunagate/bootstrap"
	"github.com/artpar/faunagate/config"
)

var emulateAddr string

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Serve the local backend over the query wire protocol",
	Long: `Run the local or sqlite backend behind the query and schema import
endpoints, so a fauna driver can point at it.

Point another config at the emulator with:
  backend:
    driver: fauna
    scheme: http
    query_host: localhost:8443
    graphql_host: localhost:8443

Examples:
  faunagate emulate
  faunagate emulate --addr :9000`,
	RunE: runEmulate,
}

func init() {
	rootCmd.AddCommand(emulateCmd)

	emulateCmd.Flags().StringVar(&emulateAddr, "addr", "127.0.0.1:8443", "listen address")
}

func runEmulate(cmd *cobra.Command, args []string) error {
	a, err := newApp(bootstrap.Options{})
	if err != nil {
		return err
	}
	defer a.Shutdown()

	if a.Config.Backend.Driver == config.DriverFauna {
		return errors.New("emulate needs the local or sqlite driver")
	}

	srv := &http.Server{
		Addr:              emulateAddr,
		Handler:           fauna.NewServer(a.Backend, a.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", emulateAddr).Msg("emulator listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
