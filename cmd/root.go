package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/profilerelay/relayer/config"
	"github.com/profilerelay/relayer/internal/api"
	"github.com/profilerelay/relayer/internal/relayer"
	"github.com/profilerelay/relayer/pkg/db"
)

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "relayer",
		Short: "Profile gas relayer",
		Run:   run,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func run(cmd *cobra.Command, args []string) {
	if err := config.LoadEnv(); err != nil {
		panic("Failed to load environment variables: " + err.Error())
	}
	config.InitLogger()

	if err := config.Load(configFile); err != nil {
		panic("Failed to load config: " + err.Error())
	}

	dbAdapter, err := db.NewDatabaseAdapter(config.GlobalConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create database adapter")
	}

	service, err := relayer.NewService(config.GlobalConfig, dbAdapter)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create relayer service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := service.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start relayer service")
	}

	apiServer := api.NewServer(config.GlobalConfig.Api.ListenAddr, service)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start api server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down relayer...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown api server")
	}
	service.Stop()
	dbAdapter.Close()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"config.json",
		"Path to the configuration file",
	)
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}
