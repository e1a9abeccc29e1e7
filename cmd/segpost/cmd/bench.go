package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/MeKo-Tech/segpost/internal/common"
	"github.com/MeKo-Tech/segpost/internal/segment"
	"github.com/MeKo-Tech/segpost/internal/utils"
	"github.com/spf13/cobra"
)

// benchCmd represents the bench command.
var benchCmd = &cobra.Command{
	Use:   "bench [image]",
	Short: "Benchmark segmentation on one image",
	Long: `Run the full pipeline repeatedly on one image and report latency and
allocation figures, followed by the average time per stage.

Examples:
  segpost bench photo.jpg
  segpost bench photo.jpg --iterations 100 --warmup 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		iterations, _ := cmd.Flags().GetInt("iterations")
		if iterations <= 0 {
			return fmt.Errorf("invalid iterations: %d (must be positive)", iterations)
		}

		img, meta, err := utils.LoadImage(args[0])
		if err != nil {
			return err
		}
		pool, _, err := openPool(cfg, 1)
		if err != nil {
			return err
		}
		defer closePool(pool)

		h, err := pool.Acquire(context.Background())
		if err != nil {
			return err
		}
		defer pool.Release(h)

		var stages segment.Timing
		var detections int
		res := common.Benchmark("segment", iterations, func() error {
			r, err := h.Process(img)
			if err != nil {
				return err
			}
			stages.Preprocess += r.Timing.Preprocess
			stages.Inference += r.Timing.Inference
			stages.Postprocess += r.Timing.Postprocess
			detections = r.Len()
			return nil
		})

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Image: %s (%dx%d, %s)\n", meta.Path, meta.Width, meta.Height, meta.Format)
		_, _ = fmt.Fprintf(out, "Net size: %d, detections: %d\n", h.Config().NetSize, detections)
		_, _ = fmt.Fprintln(out, res.String())
		if res.Error != nil {
			return res.Error
		}
		n := time.Duration(res.Iterations)
		_, _ = fmt.Fprintf(out, "Stages (avg): preprocess %v, inference %v, postprocess %v\n",
			stages.Preprocess/n, stages.Inference/n, stages.Postprocess/n)
		_, _ = fmt.Fprintf(out, "Memory: %s\n", res.MemoryAfter.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().IntP("iterations", "n", 20, "number of timed iterations")
}
