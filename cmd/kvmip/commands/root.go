package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chassisworks/kvmip/internal/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "kvmip",
		Short: "kvmip - KVM-over-IP remote console server for BMCs",
		Long: `kvmip captures the managed host's display from a video capture
device or framebuffer, streams it to VNC viewers and browser clients,
and relays viewer keyboard/mouse input into the host through emulated
USB HID gadget devices.

Features:
  • V4L2 capture with MJPEG/YUYV negotiation, framebuffer fallback
  • RFB 3.8 server for standard VNC viewers, optionally over TLS
  • Binary websocket endpoint for browser clients
  • USB HID boot-protocol keyboard and mouse injection`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human-readable console logging")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))

	config.SetDefaults(viper.GetViper())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
