package cmd

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/MeKo-Tech/segpost/internal/onnx"
	"github.com/spf13/cobra"
)

// findLibrary locates the ONNX Runtime shared library. Tests replace it.
var findLibrary = onnx.FindLibrary

// checkCmd represents the check command.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check ONNX Runtime setup and the configured model",
	Long: `Verify that the ONNX Runtime library can be found and, when the configured
model file exists, that it loads and has a supported segmentation layout
(one image input, a rank-3 detection head and rank-4 prototype masks).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		lib, err := findLibrary(cfg.GPU.Enabled)
		if err != nil {
			_, _ = fmt.Fprintf(out, "ONNX Runtime library: not found (%v)\n", err)
			return errors.New("ONNX Runtime check failed")
		}
		_, _ = fmt.Fprintf(out, "ONNX Runtime library: %s\n", lib)

		modelPath := cfg.ModelPath()
		if _, err := os.Stat(modelPath); err != nil {
			_, _ = fmt.Fprintf(out, "Model: %s not found, skipping model check\n", modelPath)
			return nil
		}

		b, err := openBackend(cfg.ToORTConfig())
		if err != nil {
			_, _ = fmt.Fprintf(out, "Model: %s failed to load: %v\n", modelPath, err)
			return errors.New("model check failed")
		}
		defer destroyRuntime()
		defer func() { _ = b.Close() }()

		info := b.Info()
		keys := make([]string, 0, len(info))
		for k := range info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = fmt.Fprintf(out, "Model: %s\n", modelPath)
		for _, k := range keys {
			_, _ = fmt.Fprintf(out, "  %s: %v\n", k, info[k])
		}
		_, _ = fmt.Fprintln(out, "All checks passed.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
