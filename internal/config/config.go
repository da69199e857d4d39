package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the runtime configuration for the KVM server.
type Config struct {
	// VideoDevice is the capture device path (V4L2 device or framebuffer).
	VideoDevice string `mapstructure:"video_device"`

	// ForceFramebuffer skips capture-device probing and opens the
	// framebuffer backend directly.
	ForceFramebuffer bool `mapstructure:"force_framebuffer"`

	// FramebufferDevice is the framebuffer path used for fallback.
	FramebufferDevice string `mapstructure:"framebuffer_device"`

	// KeyboardHID and PointerHID are the HID gadget device paths.
	KeyboardHID string `mapstructure:"keyboard_hid"`
	PointerHID  string `mapstructure:"pointer_hid"`

	// BindAddress is the address both listeners bind to.
	BindAddress string `mapstructure:"bind_address"`

	// Port is the HTTP/WebSocket listen port.
	Port int `mapstructure:"port"`

	// VNCPort is the RFB listen port.
	VNCPort int `mapstructure:"vnc_port"`

	// VNCTLS wraps the RFB listener in TLS.
	VNCTLS bool `mapstructure:"vnc_tls"`

	// CertFile and KeyFile are optional PEM paths for the TLS listener.
	// When empty a self-signed certificate is generated at startup.
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`

	// DBusAuth gates new connections on a D-Bus session check.
	DBusAuth bool `mapstructure:"dbus_auth"`

	// DesktopName is advertised to RFB clients in ServerInit.
	DesktopName string `mapstructure:"desktop_name"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`
}

// SetDefaults registers the default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("video_device", "/dev/video0")
	v.SetDefault("force_framebuffer", false)
	v.SetDefault("framebuffer_device", "/dev/fb0")
	v.SetDefault("keyboard_hid", "/dev/hidg0")
	v.SetDefault("pointer_hid", "/dev/hidg1")
	v.SetDefault("bind_address", "0.0.0.0")
	v.SetDefault("port", 8443)
	v.SetDefault("vnc_port", 5900)
	v.SetDefault("vnc_tls", false)
	v.SetDefault("dbus_auth", false)
	v.SetDefault("desktop_name", "KVM-IP")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
}

// Load unmarshals and validates the configuration from viper.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.VNCPort <= 0 || c.VNCPort > 65535 {
		return fmt.Errorf("invalid vnc port %d", c.VNCPort)
	}
	if c.Port == c.VNCPort {
		return fmt.Errorf("port and vnc-port must differ (both %d)", c.Port)
	}
	if c.VideoDevice == "" && !c.ForceFramebuffer {
		return fmt.Errorf("video device path is required")
	}
	if c.ForceFramebuffer && c.FramebufferDevice == "" {
		return fmt.Errorf("framebuffer device path is required with force-framebuffer")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("cert-file and key-file must be given together")
	}
	return nil
}
