// ABOUTME: DLNA device description discovery and parsing
// ABOUTME: Probes well-known description paths and extracts service control URLs
package dlna

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// descriptionPaths are tried in order until one answers with a parsable
// device description.
var descriptionPaths = []string{
	"/description.xml",
	"/xml/device_description.xml",
	"/rootDesc.xml",
	"/dmr.xml",
	"/DeviceDescription.xml",
}

const (
	serviceAVTransport       = "urn:schemas-upnp-org:service:AVTransport:1"
	serviceRenderingControl  = "urn:schemas-upnp-org:service:RenderingControl:1"
	serviceConnectionManager = "urn:schemas-upnp-org:service:ConnectionManager:1"
)

// Device is a parsed renderer description.
type Device struct {
	FriendlyName string
	Manufacturer string
	ModelName    string
	UDN          string

	AVTransportURL       string
	RenderingControlURL  string
	ConnectionManagerURL string
}

type deviceDescription struct {
	Device struct {
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
		UDN          string `xml:"UDN"`
		ServiceList  struct {
			Services []descService `xml:"service"`
		} `xml:"serviceList"`
		DeviceList struct {
			Devices []embeddedDevice `xml:"device"`
		} `xml:"deviceList"`
	} `xml:"device"`
}

type embeddedDevice struct {
	ServiceList struct {
		Services []descService `xml:"service"`
	} `xml:"serviceList"`
	DeviceList struct {
		Devices []embeddedDevice `xml:"device"`
	} `xml:"deviceList"`
}

type descService struct {
	ServiceType string `xml:"serviceType"`
	ControlURL  string `xml:"controlURL"`
}

// DiscoverDevice fetches and parses the description of the renderer at
// host:port, trying each well-known path in order.
func DiscoverDevice(ctx context.Context, log *slog.Logger, host string, port int) (*Device, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := fmt.Sprintf("http://%s:%d", host, port)

	var lastErr error
	for _, path := range descriptionPaths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("dlna: %s: status %d", path, resp.StatusCode)
			continue
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		dev, err := parseDeviceDescription(raw, base)
		if err != nil {
			lastErr = err
			continue
		}
		log.Info("dlna device discovered",
			"name", dev.FriendlyName, "model", dev.ModelName,
			"manufacturer", dev.Manufacturer, "path", path)
		return dev, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("dlna: no description path answered")
	}
	return nil, fmt.Errorf("dlna: describe %s: %w", base, lastErr)
}

func parseDeviceDescription(raw []byte, base string) (*Device, error) {
	var desc deviceDescription
	if err := xml.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("dlna: parse description: %w", err)
	}

	dev := &Device{
		FriendlyName: desc.Device.FriendlyName,
		Manufacturer: desc.Device.Manufacturer,
		ModelName:    desc.Device.ModelName,
		UDN:          strings.TrimPrefix(desc.Device.UDN, "uuid:"),
	}

	var services []descService
	services = append(services, desc.Device.ServiceList.Services...)
	var walk func(devs []embeddedDevice)
	walk = func(devs []embeddedDevice) {
		for _, d := range devs {
			services = append(services, d.ServiceList.Services...)
			walk(d.DeviceList.Devices)
		}
	}
	walk(desc.Device.DeviceList.Devices)

	for _, svc := range services {
		u := resolveControlURL(base, svc.ControlURL)
		switch {
		case strings.Contains(svc.ServiceType, ":AVTransport:"):
			if dev.AVTransportURL == "" {
				dev.AVTransportURL = u
			}
		case strings.Contains(svc.ServiceType, "RenderingControl:"):
			// Sonos groups expose GroupRenderingControl too; the
			// per-device service is the one we want.
			if strings.Contains(svc.ServiceType, "GroupRenderingControl") {
				continue
			}
			if dev.RenderingControlURL == "" {
				dev.RenderingControlURL = u
			}
		case strings.Contains(svc.ServiceType, ":ConnectionManager:"):
			if dev.ConnectionManagerURL == "" {
				dev.ConnectionManagerURL = u
			}
		}
	}

	if dev.AVTransportURL == "" {
		return nil, fmt.Errorf("dlna: description has no AVTransport service")
	}
	return dev, nil
}

func resolveControlURL(base, control string) string {
	if control == "" {
		return ""
	}
	if strings.HasPrefix(control, "http://") || strings.HasPrefix(control, "https://") {
		return control
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + control
	}
	ref, err := url.Parse(control)
	if err != nil {
		return base + control
	}
	return u.ResolveReference(ref).String()
}
