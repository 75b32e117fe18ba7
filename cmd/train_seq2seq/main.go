package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/neurlang/seq2seq/config"
	"github.com/neurlang/seq2seq/datasets"
	_ "github.com/neurlang/seq2seq/datasets/synthetic"
	_ "github.com/neurlang/seq2seq/datasets/textpairs"
	"github.com/neurlang/seq2seq/device"
	"github.com/neurlang/seq2seq/models"
	_ "github.com/neurlang/seq2seq/models/aligned"
	"github.com/neurlang/seq2seq/trainer"
)

func main() {
	err := newCommand().Execute()
	if errors.Is(err, context.Canceled) {
		os.Exit(130)
	}
	if err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	host := device.Host()
	var (
		configFile string
		pgo        bool
	)
	cmd := &cobra.Command{
		Use:          "train_seq2seq",
		Short:        "Train or evaluate a sequence to sequence model",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), configFile, config.Known{
				Datasets: datasets.Names(),
				Models:   models.Names(),
				Trainers: trainer.Names(),
			})
			if err != nil {
				return err
			}
			if pgo {
				stop, err := startProfile(profileFile)
				if err != nil {
					return err
				}
				defer stop()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, host)
		},
	}
	config.AddFlags(cmd.Flags(), host.DefaultWorkers())
	cmd.Flags().StringVar(&configFile, "config", "", "configuration file (yaml, json or toml)")
	cmd.Flags().BoolVar(&pgo, "pgo", false, "write a CPU profile to "+profileFile+" until the run ends")
	return cmd
}
