package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"bartender/internal/domain"
	chitransport "bartender/internal/transport/chi"
	"bartender/internal/tui"
)

func buildCommand(c *cli.Context) error {
	a, err := setup(c, "")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := c.Context
	if c.Bool("force") {
		err = a.svc.Rebuild(ctx)
	} else {
		err = a.svc.Open(ctx)
	}
	if err != nil {
		a.logger.Error("Index unavailable", zap.Error(err))
		return err
	}
	fmt.Fprintf(c.App.Writer, "Index ready in %s (%s)\n", a.cfg.Index.Dir, catalogSummary(a.catalog))
	return nil
}

func askCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("a query is required")
	}
	a, err := setup(c, "")
	if err != nil {
		return err
	}
	defer a.Close()

	if c.Bool("context-only") {
		r, err := a.svc.Answer(c.Context, query, c.Int("top-k"))
		if err != nil {
			return err
		}
		printRetrieval(c.App.Writer, r)
		return nil
	}

	r, err := a.svc.Reply(c.Context, query, c.Int("top-k"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, r.Text)
	if r.Degraded {
		fmt.Fprintln(c.App.Writer)
		printRetrieval(c.App.Writer, r.Retrieval)
	}
	return nil
}

func printRetrieval(w io.Writer, r domain.Retrieval) {
	fmt.Fprintf(w, "Constraints: %s\n", r.Constraints)
	for i, h := range r.Hits {
		fmt.Fprintf(w, "%d. [%.4f] %s\n", i+1, h.Distance, h.Record.Text)
	}
}

func chatCommand(c *cli.Context) error {
	// The chat UI owns the terminal, so logs go to a file unless configured otherwise.
	a, err := setup(c, "bartender.log")
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.Open(c.Context); err != nil {
		a.logger.Error("Index unavailable", zap.Error(err))
		return err
	}

	m := tui.New(a.svc, a.cfg.Index.TopK, catalogSummary(a.catalog))
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func serveCommand(c *cli.Context) error {
	a, err := setup(c, "")
	if err != nil {
		return err
	}
	defer a.Close()

	port := a.cfg.HTTP.Port
	if p := c.Int("port"); p > 0 {
		port = p
	}

	// Build or restore before accepting traffic so the first request does not pay for it.
	if err := a.svc.Open(c.Context); err != nil {
		a.logger.Error("Index unavailable", zap.Error(err))
		return err
	}

	server := chitransport.NewServer(a.svc, a.logger)
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chitransport.NewRouter(server),
		ReadTimeout:  time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(a.cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			a.logger.Error("HTTP server error", zap.Error(err))
			return err
		}
	case <-quit:
		a.logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Error during shutdown", zap.Error(err))
		return err
	}
	a.logger.Info("Server stopped gracefully")
	return nil
}
