package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go-melody/config"
	"go-melody/generate"
	"go-melody/server"
	"go-melody/storage"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the generation server",
	Long: `Serve the HTTP API used by browser front ends and by go-melody clients in
http generator mode. Generation always runs the configured local command.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	dir, err := cfg.StorageDir()
	if err != nil {
		return err
	}
	files, err := storage.NewFileStore(dir)
	if err != nil {
		return err
	}

	if cfg.Generator.Mode != config.GeneratorProcess {
		log.Warn("server ignores generator mode", zap.String("mode", string(cfg.Generator.Mode)))
	}
	gen := generate.NewProcessGenerator(files, cfg.Generator.Command, log.Named("generator"))
	opts := []generate.Option{generate.WithLogger(log.Named("orchestrator"))}
	if len(cfg.Generator.ContinueCommand) > 0 {
		cont := generate.NewContinuationGenerator(files, cfg.Generator.ContinueCommand, log.Named("continuation"))
		opts = append(opts, generate.WithContinuation(cont))
	}
	orch := generate.NewOrchestrator(gen, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(orch, files, log.Named("http"), buildOptions(cfg)...)
	log.Info("serving", zap.String("addr", addr), zap.String("artifacts", files.Dir()))
	if err := srv.Run(ctx, addr); err != nil {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}
