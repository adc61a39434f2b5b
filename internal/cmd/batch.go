package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/imagex/internal/worker"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Edit every image in a directory",
	Long: `Apply the same adjustments and filter to every image directly inside
--input-dir, writing the results to --output-dir. Files are processed in
parallel, each through its own pipeline.`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().String("input-dir", "", "Directory containing the images to edit (required)")
	batchCmd.Flags().String("output-dir", "./edited", "Directory for the edited images")
	batchCmd.Flags().IntP("workers", "w", 0, "Number of parallel workers (default: number of CPUs)")
	batchCmd.Flags().Bool("progress", true, "Show progress bar")
	batchCmd.Flags().Bool("allow-failures", false, "Exit successfully even if some images fail")
	batchCmd.Flags().Bool("force", false, "Overwrite outputs that already exist")
	addEditFlags(batchCmd, "batch")

	bindFlags(batchCmd, "batch", []flagKey{
		{"input_dir", "input-dir"},
		{"output_dir", "output-dir"},
		{"workers", "workers"},
		{"progress", "progress"},
		{"allow_failures", "allow-failures"},
		{"force", "force"},
	})
}

func runBatch(cmd *cobra.Command, args []string) error {
	inputDir := viper.GetString("batch.input_dir")
	outputDir := viper.GetString("batch.output_dir")
	workers := viper.GetInt("batch.workers")
	showProgress := viper.GetBool("batch.progress")
	allowFailures := viper.GetBool("batch.allow_failures")
	force := viper.GetBool("batch.force")

	if inputDir == "" {
		return fmt.Errorf("--input-dir is required")
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	opts, err := readEditOptions("batch")
	if err != nil {
		return err
	}

	tasks, err := worker.Collect(inputDir, outputDir, opts.Encoder.OutputFormat().Extension())
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		logger.Warn("No images found", "input_dir", inputDir)
		return nil
	}

	store, err := openArchive(viper.GetString("batch.archive"))
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	logger.Info("Starting batch edit",
		"input_dir", inputDir,
		"output_dir", outputDir,
		"images", len(tasks),
		"workers", workers,
		"adjust", opts.Params.String(),
		"filter", opts.Filter,
		"format", opts.Encoder.OutputFormat(),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := worker.NewProgress(len(tasks), showProgress)
	pool := worker.New(worker.Config{
		Workers: workers,
		Processor: &worker.FileProcessor{
			Logger:  logger,
			Archive: store,
			Encoder: opts.Encoder,
			Params:  &opts.Params,
			Filter:  opts.Filter,
			Force:   force,
		},
		OnProgress: progress.Callback(),
	})

	results := pool.Run(ctx, tasks)
	progress.Done()

	failed := worker.Failed(results)
	for _, r := range failed {
		logger.Error("Image edit failed", "input", r.Task.Input, "error", r.Err)
	}

	logger.Info(progress.Summary())

	if len(failed) > 0 {
		if allowFailures {
			logger.Warn("Some images failed, but continuing due to --allow-failures flag", "failed_count", len(failed))
			return nil
		}
		return fmt.Errorf("%d of %d images failed", len(failed), len(tasks))
	}

	return nil
}
