package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pomosync/pomosync/internal/db"
	"github.com/pomosync/pomosync/internal/rowstore"
)

var rowstoreCmd = &cobra.Command{
	Use:     "rowstore",
	GroupID: "setup",
	Short:   "Row-store server commands",
}

var rowstoreServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a row-store backed by a local database",
	Long: `Serve the row-store HTTP API that devices sync against. Every device
points its endpoint at this server's URL.

The server keeps its rows in its own SQLite database, separate from the
device database in the data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		dbPath, _ := cmd.Flags().GetString("db")
		requestLog, _ := cmd.Flags().GetBool("request-log")
		origins, _ := cmd.Flags().GetString("allow-origins")
		if dbPath == "" {
			dbPath = filepath.Join(cfg.DataDir, "rowstore.db")
		}

		logs, err := openSink(cfg, true)
		if err != nil {
			return err
		}
		defer logs.Close()
		logger := logs.Logger("rowstore")

		store, err := db.Open(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.InitSchema(); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		server := rowstore.NewServer(store, rowstore.Config{
			AllowOrigins: origins,
			RequestLog:   requestLog,
			Logger:       logger,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() {
			errc <- server.Listen(addr)
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		logger.Println("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Transport.Timeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	rowstoreServeCmd.Flags().String("addr", ":8080", "listen address")
	rowstoreServeCmd.Flags().String("db", "", "row-store database (default <data-dir>/rowstore.db)")
	rowstoreServeCmd.Flags().Bool("request-log", false, "log every request")
	rowstoreServeCmd.Flags().String("allow-origins", "*", "CORS origins for browser clients")

	rowstoreCmd.AddCommand(rowstoreServeCmd)
	rootCmd.AddCommand(rowstoreCmd)
}
