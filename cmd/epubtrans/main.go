package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yuanying/epubtrans/internal/compare"
	"github.com/yuanying/epubtrans/internal/epub"
	"github.com/yuanying/epubtrans/internal/translate"
)

var logger = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "epubtrans",
	Short: "Translate EPUB ebooks while preserving archive structure",
	Long: `epubtrans translates the textual content of an EPUB from one language
to another. Only text inside content documents changes: file inventory,
entry order, compression, manifest and spine are carried over intact.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logger.SetLevel(logrus.DebugLevel)
		}
	},
	SilenceUsage: true,
}

var translateCmd = &cobra.Command{
	Use:   "translate BOOK.epub",
	Short: "Translate an EPUB into a target language",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputPath := args[0]
		outputPath, _ := cmd.Flags().GetString("output")
		source, _ := cmd.Flags().GetString("source")
		target, _ := cmd.Flags().GetString("target")
		model, _ := cmd.Flags().GetString("model")
		batchChars, _ := cmd.Flags().GetInt("batch-chars")

		if err := godotenv.Load(); err != nil {
			logger.Debug("no .env file found, using environment variables")
		}

		client, err := translate.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), logger)
		if err != nil {
			return err
		}

		if outputPath == "" {
			outputPath = translate.OutputPath(inputPath, target)
		}

		archive, err := epub.Open(inputPath)
		if err != nil {
			return err
		}

		pipeline := translate.NewPipeline(client, translate.Options{
			Model:      model,
			SourceLang: source,
			TargetLang: target,
			BatchChars: batchChars,
			Progress: func(ev translate.Progress) {
				if ev.Batch == 0 {
					logger.Infof("[%d/%d] %s (%d batches)", ev.Document, ev.Documents, ev.Path, ev.Batches)
					return
				}
				logger.Infof("[%d/%d] %s: batch %d/%d done", ev.Document, ev.Documents, ev.Path, ev.Batch, ev.Batches)
			},
		}, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		translated, err := pipeline.Run(ctx, archive)
		if errors.Is(err, context.Canceled) {
			logger.Warn("run cancelled, no output written")
			return nil
		}
		if err != nil {
			return err
		}

		if err := translated.WriteFile(outputPath); err != nil {
			return err
		}
		logger.Infof("wrote %s", outputPath)
		return nil
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare ORIGINAL.epub TRANSLATED.epub",
	Short: "Check two EPUBs for structural equivalence",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		orig, err := epub.Open(args[0])
		if err != nil {
			return err
		}
		trans, err := epub.Open(args[1])
		if err != nil {
			return err
		}

		report := compare.Compare(orig, trans)
		if report.Empty() {
			fmt.Println("archives are structurally equivalent")
			return nil
		}
		for _, d := range report.Differences {
			fmt.Println(d)
		}
		return fmt.Errorf("%d structural difference(s) found", len(report.Differences))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	translateCmd.Flags().StringP("output", "o", "", "Output file path (default: input with _<target> suffix)")
	translateCmd.Flags().String("source", "auto", "Source language code (auto-detected by default)")
	translateCmd.Flags().StringP("target", "t", "", "Target language code")
	translateCmd.Flags().String("model", translate.DefaultModel, "Translation model")
	translateCmd.Flags().Int("batch-chars", translate.DefaultBatchChars, "Character budget per translation batch")
	_ = translateCmd.MarkFlagRequired("target")

	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(compareCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
