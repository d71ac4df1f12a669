package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/memri/memri-go/internal/pod"
)

var podAddr string

var podCmd = &cobra.Command{
	Use:   "pod",
	Short: "Serve an in-memory pod for development",
	Long: `Runs the in-memory pod stub over HTTP with the same wire
contract as a real pod. Data lives only as long as the process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{Addr: podAddr, Handler: pod.NewStub().Handler()}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		cmd.Printf("pod stub listening on %s\n", podAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	podCmd.Flags().StringVar(&podAddr, "addr", ":3030", "listen address")
	rootCmd.AddCommand(podCmd)
}
