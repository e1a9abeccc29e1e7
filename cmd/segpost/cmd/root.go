// Package cmd implements the segpost command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MeKo-Tech/segpost/internal/config"
	"github.com/MeKo-Tech/segpost/internal/models"
	"github.com/MeKo-Tech/segpost/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "segpost",
	Short: "Instance segmentation for YOLO-style ONNX models",
	Long: `segpost runs YOLO-style instance segmentation models and turns their raw
outputs into boxes, classes and per-object masks in original image pixels.

This tool provides:
- Letterbox preprocessing and ONNX Runtime inference
- Confidence filtering and hard or soft non-maximum suppression
- Mask synthesis from prototype masks, with automatic layout detection
- Overlay rendering and JSON, text or CSV reports
- Both CLI and server modes

Examples:
  segpost image photo.jpg
  segpost image *.png --format json --masks
  segpost serve --port 8080`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		setupLogging(cmd.ErrOrStderr(), cfg)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
// This allows tests to execute commands without calling os.Exit().
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/segpost, /etc/segpost)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("models-dir", models.DefaultModelsDir,
		"directory containing ONNX models (can also be set via "+models.EnvModelsDir+")")


	// Model and runtime flags are shared by image, serve and bench.
	pf := rootCmd.PersistentFlags()
	pf.String("model", "", "segmentation model path (default models-dir/segmentation/"+models.DefaultSegmentationModel+")")
	pf.String("labels", "", "class label file, one name per line")
	pf.Int("net-size", 640, "network input size; overridden by models with a fixed input")
	pf.Int("threads", 0, "intra-op threads (0 lets ONNX Runtime decide)")
	pf.Int("warmup", 0, "warmup passes after loading the model")
	pf.Float32("conf", 0.9, "minimum confidence for a detection")
	pf.Float32("iou", 0.45, "IoU threshold for non-maximum suppression")
	pf.Float32("min-box-size", 2, "minimum box side in net pixels")
	pf.String("nms-method", "hard", "suppression method: hard, linear or gaussian")
	pf.Bool("class-aware", false, "only suppress boxes of the same class")
	pf.Bool("gpu", false, "use the CUDA execution provider")
	pf.Int("gpu-device", 0, "CUDA device id")
	pf.String("gpu-mem-limit", "auto", "GPU memory limit (e.g. 2GB, auto)")

	bindFlag("verbose", pf, "verbose")
	bindFlag("log_level", pf, "log-level")
	bindFlag("models_dir", pf, "models-dir")
	bindFlag("model.path", pf, "model")
	bindFlag("model.labels_path", pf, "labels")
	bindFlag("model.net_size", pf, "net-size")
	bindFlag("model.num_threads", pf, "threads")
	bindFlag("model.warmup_iterations", pf, "warmup")
	bindFlag("segmentation.conf_threshold", pf, "conf")
	bindFlag("segmentation.iou_threshold", pf, "iou")
	bindFlag("segmentation.min_box_size", pf, "min-box-size")
	bindFlag("segmentation.nms_method", pf, "nms-method")
	bindFlag("segmentation.class_aware", pf, "class-aware")
	bindFlag("gpu.enabled", pf, "gpu")
	bindFlag("gpu.device", pf, "gpu-device")
	bindFlag("gpu.memory_limit", pf, "gpu-mem-limit")
}

type flagBinding struct {
	key  string
	flag *pflag.Flag
}

// flagBindings remembers every viper binding so they can be restored after
// viper.Reset.
var flagBindings []flagBinding

// bindFlag binds the named flag of fs to a viper key. Each key is bound to
// exactly one flag; binding it twice would let the last command win.
func bindFlag(key string, fs *pflag.FlagSet, name string) {
	f := fs.Lookup(name)
	if f == nil {
		panic("segpost: unknown flag " + name)
	}
	flagBindings = append(flagBindings, flagBinding{key: key, flag: f})
	_ = viper.BindPFlag(key, f)
}

func rebindFlags() {
	for _, b := range flagBindings {
		_ = viper.BindPFlag(b.key, b.flag)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	configLoader = config.NewLoader()

	var err error
	if cfgFile != "" {
		_, err = configLoader.LoadWithFileWithoutValidation(cfgFile)
	} else {
		_, err = configLoader.LoadWithoutValidation()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

// GetConfig returns the validated configuration, including CLI flags bound
// to viper.
func GetConfig() (*config.Config, error) {
	var cfg config.Config
	if err := GetConfigLoader().GetViper().Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}

func setupLogging(w io.Writer, cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	} else {
		switch strings.ToLower(cfg.LogLevel) {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		}
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}
