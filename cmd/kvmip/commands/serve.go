package commands

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chassisworks/kvmip/internal/auth"
	"github.com/chassisworks/kvmip/internal/config"
	"github.com/chassisworks/kvmip/internal/hid"
	"github.com/chassisworks/kvmip/internal/hub"
	"github.com/chassisworks/kvmip/internal/logger"
	"github.com/chassisworks/kvmip/internal/rfb"
	"github.com/chassisworks/kvmip/internal/tlsutil"
	"github.com/chassisworks/kvmip/internal/video"
	"github.com/chassisworks/kvmip/internal/wsock"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the KVM-over-IP server",
	Long: `Start the capture pipeline and both protocol listeners.

The capture device is probed first and the framebuffer is the fallback;
--force-framebuffer skips probing entirely. A capture failure after the
initial selection terminates the process so a supervisor can restart it.`,
	Example: `  # Defaults: /dev/video0 with /dev/fb0 fallback, ws on 8443, VNC on 5900
  kvmip serve

  # Framebuffer only, VNC over TLS with a generated certificate
  kvmip serve --force-framebuffer --vnc-tls

  # Explicit devices and ports
  kvmip serve --video /dev/video2 --keyboard-hid /dev/hidg0 --pointer-hid /dev/hidg1 --vnc-port 5901`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("video", "v", "", "video capture device path")
	serveCmd.Flags().Bool("force-framebuffer", false, "skip capture-device probing, use the framebuffer")
	serveCmd.Flags().String("framebuffer", "", "framebuffer device path")
	serveCmd.Flags().StringP("keyboard-hid", "k", "", "keyboard HID gadget device path")
	serveCmd.Flags().StringP("pointer-hid", "m", "", "pointer HID gadget device path")
	serveCmd.Flags().StringP("bind", "b", "", "bind address for both listeners")
	serveCmd.Flags().IntP("port", "p", 0, "websocket listen port")
	serveCmd.Flags().Int("vnc-port", 0, "RFB listen port")
	serveCmd.Flags().Bool("vnc-tls", false, "wrap the RFB listener in TLS")
	serveCmd.Flags().String("cert-file", "", "TLS certificate PEM path")
	serveCmd.Flags().String("key-file", "", "TLS private key PEM path")
	serveCmd.Flags().Bool("dbus-auth", false, "gate connections on the D-Bus session manager")

	viper.BindPFlag("video_device", serveCmd.Flags().Lookup("video"))
	viper.BindPFlag("force_framebuffer", serveCmd.Flags().Lookup("force-framebuffer"))
	viper.BindPFlag("framebuffer_device", serveCmd.Flags().Lookup("framebuffer"))
	viper.BindPFlag("keyboard_hid", serveCmd.Flags().Lookup("keyboard-hid"))
	viper.BindPFlag("pointer_hid", serveCmd.Flags().Lookup("pointer-hid"))
	viper.BindPFlag("bind_address", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("vnc_port", serveCmd.Flags().Lookup("vnc-port"))
	viper.BindPFlag("vnc_tls", serveCmd.Flags().Lookup("vnc-tls"))
	viper.BindPFlag("cert_file", serveCmd.Flags().Lookup("cert-file"))
	viper.BindPFlag("key_file", serveCmd.Flags().Lookup("key-file"))
	viper.BindPFlag("dbus_auth", serveCmd.Flags().Lookup("dbus-auth"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Video source: explicit override or probe-and-fallback.
	src, err := video.Select(video.SelectConfig{
		VideoDevice:       cfg.VideoDevice,
		FramebufferDevice: cfg.FramebufferDevice,
		ForceFramebuffer:  cfg.ForceFramebuffer,
		Width:             1920,
		Height:            1080,
	}, video.DefaultBackends())
	if err != nil {
		return err
	}
	defer src.Close()
	info := src.Info()

	// Frame hub fed by the capture loop. A capture error is fatal: the
	// process exits non-zero and the supervisor restarts it.
	frameHub := hub.New()
	captureErr := make(chan error, 1)
	go func() {
		captureErr <- hub.RunCapture(ctx, src, frameHub)
	}()

	hidMgr := hid.NewManager(cfg.KeyboardHID, cfg.PointerHID)

	var validator auth.Validator = auth.AllowAll{}
	if cfg.DBusAuth {
		dbusValidator, err := auth.NewDBusValidator()
		if err != nil {
			return fmt.Errorf("failed to connect to D-Bus: %w", err)
		}
		defer dbusValidator.Close()
		validator = dbusValidator
	}

	var tlsConfig *tls.Config
	if cfg.VNCTLS {
		tlsConfig, err = tlsutil.LoadOrGenerate(cfg.CertFile, cfg.KeyFile,
			[]string{cfg.BindAddress})
		if err != nil {
			return err
		}
	}

	rfbServer := rfb.NewServer(frameHub, hidMgr, rfb.Options{
		Width:       info.Width,
		Height:      info.Height,
		DesktopName: cfg.DesktopName,
		Validator:   validator,
		TLSConfig:   tlsConfig,
	})
	rfbErr := make(chan error, 1)
	go func() {
		rfbErr <- rfbServer.ListenAndServe(ctx,
			net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.VNCPort)))
	}()

	wsServer := wsock.NewServer(frameHub, hidMgr, validator)
	wsErr := make(chan error, 1)
	go func() {
		wsErr <- wsServer.ListenAndServe(ctx,
			net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port)))
	}()

	log.Info().
		Str("backend", info.Backend).
		Str("device", info.Path).
		Int("width", info.Width).
		Int("height", info.Height).
		Msg("kvmip is running")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-captureErr:
	case runErr = <-rfbErr:
	case runErr = <-wsErr:
	}
	stop()
	frameHub.Close()

	if runErr != nil {
		log.Error().Err(runErr).Msg("terminating")
	}
	return runErr
}
