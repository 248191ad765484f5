package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"slowjams/internal/queue"
	"slowjams/internal/settings"
	"slowjams/internal/stage"
)

type addOptions struct {
	priority      int
	preset        string
	speed         float64
	pitch         float64
	trimStart     float64
	trimEnd       float64
	normalize     bool
	skipEdit      bool
	skipTransform bool
	format        string
	bitrate       string
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	opts := addOptions{speed: -1, pitch: 0}

	cmd := &cobra.Command{
		Use:   "add <url-or-file>",
		Short: "Queue a source for processing",
		Long:  "Queues a URL or local audio file. The running daemon picks the job up through the shared database.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, ctx, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.priority, "priority", 0, "Scheduling priority (higher runs first)")
	cmd.Flags().StringVar(&opts.preset, "preset", "", "Parameter preset: slowjam, chopped, vaporwave")
	cmd.Flags().Float64Var(&opts.speed, "speed", -1, "Playback speed factor (e.g. 0.8)")
	cmd.Flags().Float64Var(&opts.pitch, "pitch", 0, "Pitch shift in semitones")
	cmd.Flags().Float64Var(&opts.trimStart, "trim-start", 0, "Trim start offset in seconds")
	cmd.Flags().Float64Var(&opts.trimEnd, "trim-end", 0, "Trim end offset in seconds")
	cmd.Flags().BoolVar(&opts.normalize, "normalize", false, "Force loudness normalization in the edit stage")
	cmd.Flags().BoolVar(&opts.skipEdit, "no-edit", false, "Skip the edit stage entirely")
	cmd.Flags().BoolVar(&opts.skipTransform, "no-transform", false, "Skip the transform stage (plain conversion)")
	cmd.Flags().StringVar(&opts.format, "format", "", "Output container format (mp3, flac, wav, ...)")
	cmd.Flags().StringVar(&opts.bitrate, "bitrate", "", "Output bitrate (e.g. 320k)")

	return cmd
}

func runAdd(cmd *cobra.Command, ctx *commandContext, source string, opts addOptions) error {
	store, _, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	params, err := resolveParams(cmd, store, opts)
	if err != nil {
		return err
	}

	plan := buildPlan(params, opts)
	job, err := store.Submit(cmd.Context(), queue.NewJob{
		SourceRef: source,
		Plan:      plan,
		Params:    params,
		Priority:  opts.priority,
	})
	if err != nil {
		return fmt.Errorf("queue job: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d: %s\n", job.ID, job.SourceRef)
	fmt.Fprintf(cmd.OutOrStdout(), "Plan: %s\n", formatPlan(job))
	return nil
}

// resolveParams layers the submission parameters: stored defaults, then an
// optional preset, then explicit flags.
func resolveParams(cmd *cobra.Command, store *queue.Store, opts addOptions) (stage.Params, error) {
	params, err := settings.NewStore(store).DefaultParams(cmd.Context())
	if err != nil {
		return stage.Params{}, fmt.Errorf("load default parameters: %w", err)
	}

	if opts.preset != "" {
		preset, ok := stage.Preset(opts.preset)
		if !ok {
			return stage.Params{}, fmt.Errorf("unknown preset %q", opts.preset)
		}
		params = preset
	}

	if opts.speed > 0 {
		params.SpeedFactor = opts.speed
	}
	if cmd.Flags().Changed("pitch") {
		params.PitchEnabled = opts.pitch != 0
		params.PitchSemitones = opts.pitch
	}
	if opts.trimStart > 0 {
		params.TrimStart = opts.trimStart
	}
	if opts.trimEnd > 0 {
		params.TrimEnd = opts.trimEnd
	}
	if cmd.Flags().Changed("normalize") {
		params.Normalize = opts.normalize
	}
	if opts.format != "" {
		params.OutputFormat = opts.format
	}
	if opts.bitrate != "" {
		params.OutputBitrate = opts.bitrate
	}
	return params, nil
}

// buildPlan derives the stage plan from the effective parameters. Edit and
// transform are optional; acquire, convert and finalize always run.
func buildPlan(params stage.Params, opts addOptions) []stage.Kind {
	plan := []stage.Kind{stage.KindAcquire, stage.KindConvert}
	if !opts.skipEdit && (params.Normalize || params.TrimStart > 0 || params.TrimEnd > 0) {
		plan = append(plan, stage.KindEdit)
	}
	if !opts.skipTransform {
		plan = append(plan, stage.KindTransform)
	}
	return append(plan, stage.KindFinalize)
}
