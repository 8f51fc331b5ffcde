// ABOUTME: mDNS advertisement of the Connect discovery record
// ABOUTME: Announces _qobuz-connect._tcp with the controller's expected TXT keys
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"

	"github.com/hashicorp/mdns"

	"github.com/qbz-connect/renderer/internal/version"
)

const serviceType = "_qobuz-connect._tcp"

// Announcer advertises the renderer on the LAN.
type Announcer struct {
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAnnouncer returns an idle announcer.
func NewAnnouncer(log *slog.Logger) *Announcer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Announcer{log: log, ctx: ctx, cancel: cancel}
}

// Announce publishes the discovery record until Shutdown.
func (a *Announcer) Announce(displayName, deviceUUID string, port int) error {
	ips, err := localIPs()
	if err != nil {
		return fmt.Errorf("discovery: local ips: %w", err)
	}

	txt := []string{
		"path=/streamcore",
		"type=SPEAKER",
		"sdk_version=" + version.SDKVersion,
		"Name=" + displayName,
		"device_uuid=" + deviceUUID,
	}

	service, err := mdns.NewMDNSService(
		SanitizeServiceName(displayName),
		serviceType,
		"",
		"",
		port,
		ips,
		txt,
	)
	if err != nil {
		return fmt.Errorf("discovery: create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("discovery: start mdns: %w", err)
	}
	a.log.Info("announcing on mdns", "service", serviceType, "name", displayName, "port", port)

	go func() {
		<-a.ctx.Done()
		server.Shutdown()
	}()
	return nil
}

// Shutdown withdraws the record.
func (a *Announcer) Shutdown() {
	a.cancel()
}

var (
	invalidServiceChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	dashRuns            = regexp.MustCompile(`-+`)
)

// SanitizeServiceName maps a display name onto the characters mDNS
// instance names tolerate: invalid runes become dashes, runs collapse,
// edges are trimmed.
func SanitizeServiceName(name string) string {
	s := invalidServiceChars.ReplaceAllString(name, "-")
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "qbz-renderer"
	}
	return s
}

func localIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var out []net.IP
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			out = append(out, ip4)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable non-loopback interface")
	}
	return out, nil
}

// LanIP returns the first non-loopback IPv4 address, used to build the
// proxy URLs handed to renderers.
func LanIP() (string, error) {
	ips, err := localIPs()
	if err != nil {
		return "", err
	}
	return ips[0].String(), nil
}
