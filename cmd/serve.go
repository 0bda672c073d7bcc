package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/toolify/toolify/internal/process"
	"github.com/toolify/toolify/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy service",
	Long:  `Start the LLM proxy service in the foreground.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetBool("log-file")
	setupLogging(verbose, logFile)

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("starting %s v%s...", AppName, Version)
	logger.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"upstream_services", len(cfg.UpstreamServices),
	)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv := server.New(cfgMgr, logger)
	return srv.Start()
}
