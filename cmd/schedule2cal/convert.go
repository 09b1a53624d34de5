package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jo-hoe/schedule2cal/internal/convert"
	"github.com/jo-hoe/schedule2cal/internal/picker"
	"github.com/jo-hoe/schedule2cal/internal/storage"
)

var (
	pickFlag      bool
	outputDirFlag string
	strictFlag    bool
	overwriteFlag bool
)

var convertCmd = &cobra.Command{
	Use:   "convert [image]",
	Short: "Convert a schedule image into schedule.ics",
	Long: `Convert uploads one image to the conversion service and saves the
returned calendar as schedule.ics in the output directory. Existing files are
kept; the new calendar is numbered instead unless --overwrite is set.

Without an image argument, --pick opens a native file chooser.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().BoolVarP(&pickFlag, "pick", "p", false, "Choose the image with a native file dialog")
	convertCmd.Flags().StringVarP(&outputDirFlag, "output-dir", "o", "", "Directory to save schedule.ics into (overrides config)")
	convertCmd.Flags().BoolVar(&strictFlag, "strict", false, "Reject responses that are not a valid calendar")
	convertCmd.Flags().BoolVar(&overwriteFlag, "overwrite", false, "Replace an existing schedule.ics")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("output-dir") {
		cfg.Client.OutputDir = outputDirFlag
	}
	if strictFlag {
		cfg.Client.Strict = true
	}
	if overwriteFlag {
		cfg.Client.Overwrite = true
	}

	svc, err := newConversion(cfg)
	if err != nil {
		return err
	}
	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	opts := convert.Options{
		Messages: cfg.Client.Messages,
		Validate: strictValidator(cfg),
		Logger:   &logger,
	}
	if store != nil {
		defer func() { _ = store.Close() }()
		opts.Recorder = store
	}

	saver := storage.NewFileSaver(cfg.Client.OutputDir, cfg.Client.Overwrite)
	client := convert.New(svc, saver, opts)
	defer client.Close()

	maxBytes := int64(math.MaxInt64)
	if cfg.Server.MaxUploadSize > 0 && uint64(cfg.Server.MaxUploadSize) < math.MaxInt64 {
		maxBytes = int64(cfg.Server.MaxUploadSize) // #nosec G115 - bounded above
	}

	img, selected, err := selectImage(args, maxBytes)
	if err != nil {
		return err
	}
	if selected {
		if err := client.Select(img); err != nil {
			return fmt.Errorf("select image: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Selected %s (%s)\n", img.Filename, humanize.Bytes(uint64(len(img.Data))))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st := client.Convert(ctx)
	fmt.Fprintln(cmd.OutOrStdout(), st.Message)
	if st.Err != nil {
		return st.Err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", saver.LastPath())
	return nil
}

// selectImage resolves the image from the argument or the picker. No image is
// not an error here; Convert reports it to the user.
func selectImage(args []string, maxBytes int64) (convert.SelectedImage, bool, error) {
	switch {
	case len(args) == 1:
		img, err := storage.ReadImageFile(args[0], maxBytes)
		if err != nil {
			return convert.SelectedImage{}, false, err
		}
		return img, true, nil
	case pickFlag:
		img, err := picker.Pick(maxBytes)
		if errors.Is(err, picker.ErrCanceled) {
			return convert.SelectedImage{}, false, nil
		}
		if err != nil {
			return convert.SelectedImage{}, false, err
		}
		return img, true, nil
	default:
		return convert.SelectedImage{}, false, nil
	}
}
