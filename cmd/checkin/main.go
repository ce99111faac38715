package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/event-checkin/internal/app"
	"github.com/example/event-checkin/internal/auth"
	"github.com/example/event-checkin/internal/config"
	"github.com/example/event-checkin/internal/draw"
	httptransport "github.com/example/event-checkin/internal/http"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Args[2:], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("check-in gateway stopped", "error", err)
		os.Exit(1)
	}
}

// hashPassword prints the argon2id hash of the password given as the only
// argument, or read from stdin when no argument is given.
func hashPassword(args []string, stdin io.Reader, stdout io.Writer) error {
	var password string
	switch len(args) {
	case 0:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(string(data), "\r\n")
	case 1:
		password = args[0]
	default:
		return errors.New("usage: checkin hash-password [password]")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	encoded, err := auth.HashPassword(password, auth.DefaultArgon2idParams)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, encoded)
	return err
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	device, err := app.New(app.Options{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("build device: %w", err)
	}
	defer func() {
		if cerr := device.Close(); cerr != nil {
			logger.Error("failed to close device", "error", cerr)
		}
	}()

	if err := device.Start(ctx); err != nil {
		return fmt.Errorf("start device: %w", err)
	}

	events := httptransport.NewEventStream(func() any { return device.Status() }, logger)
	defer events.Close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           newHandler(device, events, cfg.AdminPasswordHash, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return device.Run(groupCtx) })
	group.Go(func() error {
		changes := device.Gateway().Subscribe()
		defer device.Gateway().Unsubscribe(changes)
		httptransport.Forward(groupCtx, events, httptransport.EventChange, changes)
		return nil
	})
	group.Go(func() error {
		notices := device.Engine().Notices()
		defer device.Engine().RemoveNoticeListener(notices)
		httptransport.Forward(groupCtx, events, httptransport.EventNotice, notices)
		return nil
	})
	group.Go(func() error {
		statuses := device.Selector().Statuses()
		defer device.Selector().RemoveStatusListener(statuses)
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case _, ok := <-statuses:
				if !ok {
					return nil
				}
				events.Publish(httptransport.EventStatus, device.Status())
			}
		}
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		events.Close()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("check-in API listening", "addr", server.Addr, "store", device.Status().Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func newHandler(device *app.App, events http.Handler, adminHash string, logger *slog.Logger) http.Handler {
	gw := device.Gateway()
	return httptransport.NewRouter(httptransport.RouterConfig{
		Attendees:  httptransport.NewAttendeeHandler(gw, logger),
		Surveys:    httptransport.NewSurveyHandler(gw, logger),
		Snapshots:  httptransport.NewSnapshotHandler(gw, logger),
		Status:     httptransport.NewStatusHandler(gw, device, logger),
		Draws:      httptransport.NewDrawHandler(gw, draw.New(nil), logger),
		Events:     events,
		Admin:      httptransport.RequireAdmin(adminHash, logger),
		Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})
}
