package auth

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/chassisworks/kvmip/internal/logger"
)

// sessionManagerService is the BMC session manager queried before a
// viewer is admitted.
const sessionManagerService = "xyz.openbmc_project.SessionManager"

// DBusValidator gates connections on the availability of the BMC's
// session manager on the system bus. If the bus or the service cannot
// be reached the connection is denied: an unreachable session manager
// means session state cannot be verified.
type DBusValidator struct {
	conn    *dbus.Conn
	timeout time.Duration
}

// NewDBusValidator connects to the system bus. A failed connection is
// an error at startup rather than a silent allow-all.
func NewDBusValidator() (*DBusValidator, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	return &DBusValidator{conn: conn, timeout: 2 * time.Second}, nil
}

// Authorize pings the session manager service and admits the
// connection when it answers.
func (v *DBusValidator) Authorize(ctx context.Context, remoteAddr string) bool {
	log := logger.WithComponent("auth")

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var owner string
	obj := v.conn.BusObject()
	err := obj.CallWithContext(ctx, "org.freedesktop.DBus.GetNameOwner", 0,
		sessionManagerService).Store(&owner)
	if err != nil {
		log.Warn().Err(err).Str("remote", remoteAddr).
			Msg("session manager unreachable, connection denied")
		return false
	}
	log.Debug().Str("remote", remoteAddr).Str("owner", owner).Msg("session validated")
	return true
}

// Close releases the bus connection.
func (v *DBusValidator) Close() error {
	return v.conn.Close()
}
