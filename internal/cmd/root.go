package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "imagex",
	Short: "A raster image tone and color editor",
	Long: `imagex adjusts brightness, contrast and saturation of raster images,
applies one color filter (none, grayscale, sepia, invert) and exports the result
as PNG, JPEG, BMP or TIFF.

Use "edit" for a single file or stdin, "batch" for a directory and "serve" to
host interactive edit sessions over HTTP.

Every flag can also be set in config.yaml (searched in the working directory)
under its command's section, e.g. edit.brightness, or through the environment,
e.g. IMAGEX_EDIT_BRIGHTNESS=120.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		if logger == nil {
			return initLogging()
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml when present)")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("log-file", "", "Append logs to this file instead of stderr")

	for key, name := range map[string]string{
		"verbose":    "verbose",
		"log_format": "log-format",
		"log_file":   "log-file",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
}

// initConfig reads the config file. A missing default config.yaml is fine; an
// explicit --config that cannot be read is an error.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// IMAGEX_EDIT_BRIGHTNESS maps to edit.brightness.
	viper.SetEnvPrefix("IMAGEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	if viper.GetBool("verbose") {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
	return nil
}
