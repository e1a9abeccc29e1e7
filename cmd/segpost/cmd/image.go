package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/segpost/internal/models"
	"github.com/MeKo-Tech/segpost/internal/render"
	"github.com/MeKo-Tech/segpost/internal/report"
	"github.com/MeKo-Tech/segpost/internal/segment"
	"github.com/MeKo-Tech/segpost/internal/utils"
	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/cobra"
)

const (
	outputFormatJSON = "json"
	outputFormatCSV  = "csv"
	outputFormatText = "text"
)

// imageCmd represents the image command.
var imageCmd = &cobra.Command{
	Use:   "image [files...]",
	Short: "Segment objects in images",
	Long: `Process one or more image files and report every detected object with its
box, class, score and optionally its mask.

Supported formats: JPEG, PNG, BMP, TIFF, GIF

Examples:
  segpost image photo.jpg
  segpost image *.png --format json --masks
  segpost image street.jpg --overlay-dir out/ --conf 0.5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImage,
}

// imageOutcome is the result of one input file.
type imageOutcome struct {
	report *report.Report
	err    error
}

func runImage(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	masks, _ := cmd.Flags().GetBool("masks")
	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		workers = 1
	}
	renderOpts, err := cfg.ToRenderOptions()
	if err != nil {
		return err
	}

	labels, err := loadLabels(cfg)
	if err != nil {
		return err
	}
	pool, _, err := openPool(cfg, workers)
	if err != nil {
		return err
	}
	defer closePool(pool)

	loaded := utils.BatchLoadImages(args)
	opts := report.Options{Masks: masks, Render: renderOpts}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	outcomes := iter.Mapper[utils.BatchImageResult, imageOutcome]{MaxGoroutines: workers}.Map(loaded,
		func(in *utils.BatchImageResult) imageOutcome {
			if in.Err != nil {
				return imageOutcome{err: in.Err}
			}
			rep, err := segmentImage(ctx, pool, in.Img, in.Path, labels, opts, cfg.Output.OverlayDir)
			return imageOutcome{report: rep, err: err}
		})

	reports := make([]*report.Report, 0, len(outcomes))
	for i, o := range outcomes {
		if o.err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %v\n", args[i], o.err)
			continue
		}
		reports = append(reports, o.report)
	}
	if len(reports) == 0 {
		return errors.New("no image could be processed")
	}

	out, err := formatReports(cfg.Output.Format, reports)
	if err != nil {
		return err
	}
	if cfg.Output.File != "" {
		if err := os.WriteFile(cfg.Output.File, []byte(out), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Results written to %s\n", cfg.Output.File)
		return nil
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}

// segmentImage runs one image and writes its overlay when overlayDir is set.
func segmentImage(ctx context.Context, pool *segment.HandlePool, img image.Image, path string,
	labels *models.Labels, opts report.Options, overlayDir string,
) (*report.Report, error) {
	res, err := pool.Process(ctx, img)
	if err != nil {
		return nil, err
	}
	rep, err := report.Build(res, img, labels, opts)
	if err != nil {
		return nil, err
	}
	rep.Source = path

	if overlayDir != "" {
		ov, err := render.Overlay(img, res, opts.Render)
		if err != nil {
			return nil, fmt.Errorf("overlay: %w", err)
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		outPath := filepath.Join(overlayDir, base+"_overlay.png")
		if err := utils.SaveImage(outPath, ov); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

func formatReports(format string, reports []*report.Report) (string, error) {
	switch format {
	case outputFormatJSON:
		if len(reports) == 1 {
			s, err := report.ToJSON(reports[0])
			return s + "\n", err
		}
		s, err := report.ToJSONs(reports)
		return s + "\n", err
	case outputFormatCSV:
		return report.ToCSV(reports...)
	case outputFormatText:
		var sb strings.Builder
		for _, rep := range reports {
			s, err := report.ToPlainText(rep)
			if err != nil {
				return "", err
			}
			sb.WriteString(s)
		}
		return sb.String(), nil
	default:
		valid := []string{outputFormatText, outputFormatJSON, outputFormatCSV}
		return "", fmt.Errorf("invalid output format: %s (must be one of: %s)", format, strings.Join(valid, ", "))
	}
}

func init() {
	rootCmd.AddCommand(imageCmd)

	f := imageCmd.Flags()
	f.StringP("format", "f", outputFormatText, "output format: text, json or csv")
	f.StringP("output", "o", "", "write results to this file instead of stdout")
	f.String("overlay-dir", "", "directory to write overlay images")
	f.Float64("overlay-alpha", 0.45, "mask fill opacity in overlays (0..1)")
	f.String("box-color", "", "overlay color as #rrggbb (default per-class palette)")
	f.Float32("mask-threshold", 0.5, "mask probability threshold (0..1)")
	f.Bool("masks", false, "include binarized masks as base64 PNG in the report")
	f.Int("workers", 1, "number of images processed in parallel, one model session each")

	bindFlag("output.format", f, "format")
	bindFlag("output.file", f, "output")
	bindFlag("output.overlay_dir", f, "overlay-dir")
	bindFlag("output.overlay_alpha", f, "overlay-alpha")
	bindFlag("output.box_color", f, "box-color")
	bindFlag("segmentation.mask_threshold", f, "mask-threshold")
}
