package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pilacorp/go-pop-sdk/config"
)

type app struct {
	envFile string
	cfg     *config.Config
	logger  *zap.Logger
}

// RootCmd builds the pop-attester command tree.
func RootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "pop-attester",
		Short:         "Proof of Personhood attestation signer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "optional dotenv file loaded before the environment is read")

	cmd.AddCommand(
		newServeCmd(a),
		newAttestCmd(a),
		newTierCmd(a),
		newCredentialCmd(a),
	)
	return cmd
}

func (a *app) init() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", a.envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a.cfg = cfg
	a.logger = logger
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.AppEnv == config.EnvDevelopment {
		return zap.NewDevelopment()
	}
	return zap.NewProduction(zap.Fields(zap.String("app_env", cfg.AppEnv)))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
