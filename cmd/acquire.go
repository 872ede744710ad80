package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cache/internal/model"
	"github.com/sells-group/intel-cache/internal/pipeline"
)

var (
	acquireURL        string
	acquirePrompt     string
	acquireCapability string
	acquireKind       string
	acquireUnits      int
	acquireMinConf    float64
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire intelligence for a single URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "acquire")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Coordinator.Acquire(ctx, pipeline.AcquireRequest{
			URL:           acquireURL,
			Prompt:        acquirePrompt,
			Capability:    model.Capability(acquireCapability),
			Kind:          model.PayloadKind(acquireKind),
			Units:         acquireUnits,
			MinConfidence: acquireMinConf,
		})
		if err != nil {
			return eris.Wrap(err, "acquire")
		}

		zap.L().Info("acquire complete",
			zap.String("url", res.CanonicalURL),
			zap.Bool("from_cache", res.FromCache),
			zap.String("provider", res.Provider),
			zap.Float64("cost", res.Cost),
			zap.Float64("savings", res.Savings),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	acquireCmd.Flags().StringVar(&acquireURL, "url", "", "URL to acquire intelligence for (required)")
	acquireCmd.Flags().StringVar(&acquirePrompt, "prompt", "", "generation prompt used on a cache miss")
	acquireCmd.Flags().StringVar(&acquireCapability, "capability", string(model.CapabilityText), "capability: text or image")
	acquireCmd.Flags().StringVar(&acquireKind, "kind", "", "payload kind: text, image or analysis (default from capability)")
	acquireCmd.Flags().IntVar(&acquireUnits, "units", 1, "billable units")
	acquireCmd.Flags().Float64Var(&acquireMinConf, "min-confidence", 0, "minimum cached confidence (default from config)")
	_ = acquireCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(acquireCmd)
}
