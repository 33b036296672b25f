package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/config"
	zapadapter "github.com/unkn0wn-root/fieldsync/log/zap"
)

// app carries the state every subcommand shares once the root has resolved it.
type app struct {
	cfgPath string
	cfg     config.Config
	log     *zap.Logger
	out     io.Writer
}

func (a *app) logger() fieldsync.Logger { return zapadapter.New(a.log) }

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           "fieldsyncctl",
		Short:         "Inspect and maintain fieldsync offline state",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			l, err := newZap(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, l
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "",
		"Path to a YAML config file. FIELDSYNC_* environment variables override it.")

	root.AddCommand(
		newQueueCommand(a),
		newCacheCommand(a),
		newProbeCommand(a),
		newConfigCommand(a),
	)
	return root
}

func newZap(lc config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if lc.Level != "" {
		lvl, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(a.out)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(a.cfg)
		},
	}
}
