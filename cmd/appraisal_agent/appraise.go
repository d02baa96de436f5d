package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/appraisal-agent/internal/observability"
	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/records"
	"github.com/jonathan/appraisal-agent/internal/types"
)

var (
	appraiseComment  string
	appraisePlatform string
	appraiseJSON     bool
)

var appraiseCmd = &cobra.Command{
	Use:   "appraise <image>",
	Short: "Appraise a local image and print progress",
	Long:  `Run the vision, search and price stages for one image file without storing a record.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAppraise,
}

func init() {
	appraiseCmd.Flags().StringVarP(&appraiseComment, "comment", "c", "", "Optional comment about the item")
	appraiseCmd.Flags().StringVar(&appraisePlatform, "platform", string(types.PlatformWeb), "Client platform (web, ios, android)")
	appraiseCmd.Flags().BoolVar(&appraiseJSON, "json", false, "Print raw progress events as JSON lines")
	rootCmd.AddCommand(appraiseCmd)
}

func runAppraise(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	req, err := types.NewPipelineRequest(image, appraiseComment, types.Platform(appraisePlatform), uuid.Nil)
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	app, err := buildAppraiser(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	_, err = streamAppraisal(ctx, app.orchestrator, req, cmd.OutOrStdout(), appraiseJSON)
	return err
}

// streamAppraisal runs one appraisal, writing each event to out as it
// arrives and the result summary at the end.
func streamAppraisal(ctx context.Context, o *pipeline.Orchestrator, req *types.PipelineRequest, out io.Writer, asJSON bool) (*types.PipelineOutcome, error) {
	printer := observability.NewPrinter(out)
	enc := json.NewEncoder(out)

	events, wait := o.Start(ctx, req, func(_ context.Context, _ *types.PipelineRequest, outcome *types.PipelineOutcome) any {
		return records.BuildDisplay(outcome)
	})
	for ev := range events {
		if asJSON {
			if err := enc.Encode(ev); err != nil {
				return nil, fmt.Errorf("failed to write event: %w", err)
			}
			continue
		}
		printer.PrintEvent(ev)
	}

	outcome, err := wait()
	if err != nil {
		return outcome, err
	}
	if !asJSON {
		printer.PrintResult(records.BuildDisplay(outcome))
	}
	return outcome, nil
}
