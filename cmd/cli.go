// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"circlights/internal/build"
	"circlights/internal/config"
)

// Commands other than the default run.
const (
	CommandList  = "list"
	CommandProbe = "probe"
)

// Options is the outcome of parsing the command line.
type Options struct {
	// Command is a one-off command, empty for the visualizer itself.
	Command string
	// Run is false when only help or version output was requested.
	Run bool
	// Monitor shows the terminal monitor while running.
	Monitor bool
	// ConfigPath is the file the configuration was read from, or the
	// --config value.
	ConfigPath string
	Config     *config.Config
}

// flagKeys maps flags onto configuration keys. Flags override the file
// and the environment.
var flagKeys = map[string]string{
	"device":     "audio.input_device",
	"file":       "audio.file",
	"loop":       "audio.loop",
	"record":     "audio.record_path",
	"led-count":  "led.count",
	"wled":       "led.device_address",
	"protocol":   "led.protocol",
	"brightness": "led.brightness",
	"listen":     "web.listen",
	"log-level":  "log_level",
}

func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.Get()
	options := &Options{}
	v := viper.New()

	load := func(cmd *cobra.Command) error {
		if err := bindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		// Naming a file implies playing it.
		if cmd.Flags().Changed("file") {
			v.Set("audio.source", config.SourceFile)
		}
		cfg, used, err := config.Load(v, options.ConfigPath)
		if err != nil {
			return err
		}
		options.Config = cfg
		if used != "" {
			options.ConfigPath = used
		}
		return nil
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Run = true
			return load(cmd)
		},
	}
	rootCmd.SetVersionTemplate(buildInfo.String() + "\n")

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   CommandList,
		Short: "List available audio input devices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandList
		},
	}
	rootCmd.AddCommand(listCmd)

	probeCmd := &cobra.Command{
		Use:   CommandProbe + " [address]",
		Short: "Query a WLED device and show the protocol that would be used",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandProbe
			if len(args) == 1 {
				v.Set("led.device_address", args[0])
			}
			if err := load(cmd); err != nil {
				return err
			}
			if options.Config.LED.DeviceAddress == "" {
				return fmt.Errorf("no device address: pass one or set --wled")
			}
			return nil
		},
	}
	rootCmd.AddCommand(probeCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&options.ConfigPath, "config", "C", "",
		"Configuration file (default: ./config.yaml or the user config directory)")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")

	// Audio
	flags.IntP("device", "d", config.MinDeviceID,
		"Input device ID, -1 for the default. Use the 'list' command to see available devices.")
	flags.StringP("file", "f", "", "Play a WAV, MP3 or OGG file instead of capturing")
	flags.Bool("loop", false, "Loop the audio file")
	flags.StringP("record", "r", "", "Record the captured input to this WAV file")

	// LEDs
	flags.StringP("wled", "w", "", "WLED device address (host, host:port or URL)")
	flags.IntP("led-count", "n", 60, "Number of LEDs, 0 to use the count the device reports")
	flags.String("protocol", "auto", "LED protocol: auto, http, warls or ddp")
	flags.IntP("brightness", "b", 200, "Global brightness 0-255")

	// Interfaces
	flags.StringP("listen", "l", "127.0.0.1:8080", "HTTP API listen address, empty to disable")
	rootCmd.Flags().BoolVarP(&options.Monitor, "monitor", "m", false, "Show the terminal monitor")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return options, nil
}

// bindFlags binds only the flags given on the command line so that
// unset flags do not mask the file or the environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}
