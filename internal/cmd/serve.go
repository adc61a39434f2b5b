package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/imagex/internal/codec"
	"github.com/MeKo-Tech/imagex/internal/preview"
	"github.com/MeKo-Tech/imagex/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve edit sessions over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().Int64("max-upload-mb", 32, "Maximum upload size in MiB")
	serveCmd.Flags().Int("max-megapixels", server.DefaultMaxPixels>>20, "Refuse uploads whose header declares more megapixels (2^20 pixels)")
	serveCmd.Flags().String("archive", "", "SQLite file that keeps a copy of every session export (optional)")
	serveCmd.Flags().Duration("session-ttl", 30*time.Minute, "Close sessions idle for longer than this")
	serveCmd.Flags().Int("max-sessions", 64, "Maximum number of concurrent sessions")
	serveCmd.Flags().Int("preview-max", preview.DefaultMaxSize, "Default longest edge of previews in pixels")
	serveCmd.Flags().String("cache-control", "no-store", "Cache-Control header for previews and exports")
	serveCmd.Flags().String("png-compression", "default", "PNG compression for exports (default, speed, best, none)")
	serveCmd.Flags().Int("jpeg-quality", codec.DefaultJPEGQuality, "Default JPEG quality for exports (1-100)")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("serve.max_upload_mb", "max-upload-mb")
	mustBind("serve.max_megapixels", "max-megapixels")
	mustBind("serve.archive", "archive")
	mustBind("serve.session_ttl", "session-ttl")
	mustBind("serve.max_sessions", "max-sessions")
	mustBind("serve.preview_max", "preview-max")
	mustBind("serve.cache_control", "cache-control")
	mustBind("serve.png_compression", "png-compression")
	mustBind("serve.jpeg_quality", "jpeg-quality")
}

func runServe(cmd *cobra.Command, args []string) error {
	if !viper.GetBool("verbose") {
		gin.SetMode(gin.ReleaseMode)
	}

	addr := viper.GetString("serve.addr")
	// Exports default to PNG; ?format= picks another per request.
	viper.SetDefault("serve.format", "png")
	enc, err := readEncoder("serve")
	if err != nil {
		return err
	}

	store, err := openArchive(viper.GetString("serve.archive"))
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	srv := server.New(server.Config{
		Archive:        store,
		CacheControl:   viper.GetString("serve.cache_control"),
		Encoder:        enc,
		MaxUploadBytes: viper.GetInt64("serve.max_upload_mb") << 20,
		MaxPixels:      viper.GetInt("serve.max_megapixels") << 20,
		MaxSessions:    viper.GetInt("serve.max_sessions"),
		PreviewMaxSize: viper.GetInt("serve.preview_max"),
		SessionTTL:     viper.GetDuration("serve.session_ttl"),
	}, logger)
	defer srv.Stop()

	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	logger.Info("imagex server listening",
		"addr", addr,
		"archive", store != nil,
		"max_upload_mb", viper.GetInt64("serve.max_upload_mb"),
		"session_ttl", viper.GetDuration("serve.session_ttl"),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Received interrupt signal, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
