package protocols

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/koron/go-ssdp"

	"lunastream/models"
)

const mediaServerSearchTarget = "urn:schemas-upnp-org:device:MediaServer:1"

// UPnPClient discovers media servers on the local network. It is a
// discovery-only variant: it cannot list or stream files itself, so the
// corresponding operations advertise ErrUnsupported.
type UPnPClient struct {
	httpc *http.Client
}

// NewUPnPClient creates a discovery client.
func NewUPnPClient() *UPnPClient {
	return &UPnPClient{httpc: &http.Client{Timeout: 10 * time.Second}}
}

func (c *UPnPClient) Capabilities() Capability { return CapDiscover }

func (c *UPnPClient) Connect(ctx context.Context) error { return nil }
func (c *UPnPClient) Disconnect() error                 { return nil }

func (c *UPnPClient) List(ctx context.Context, path string) ([]models.RemoteEntry, error) {
	return nil, ErrUnsupported
}

func (c *UPnPClient) Stat(ctx context.Context, path string) (models.RemoteEntry, error) {
	return models.RemoteEntry{}, ErrUnsupported
}

func (c *UPnPClient) OpenRange(ctx context.Context, path string, start, end int64) (io.ReadCloser, error) {
	return nil, ErrUnsupported
}

func (c *UPnPClient) TestConnection(ctx context.Context) (bool, string) {
	devices, err := c.Discover(ctx, 3*time.Second)
	if err != nil {
		return false, err.Error()
	}
	return true, fmt.Sprintf("%d device(s) responded", len(devices))
}

// Discover runs two SSDP search passes — a targeted media-server search
// followed by ssdp:all — and aggregates unique responses by USN until the
// timeout elapses.
func (c *UPnPClient) Discover(ctx context.Context, timeout time.Duration) ([]models.UPnPDevice, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	waitSec := int(timeout.Seconds() / 2)
	if waitSec < 1 {
		waitSec = 1
	}

	seen := make(map[string]models.UPnPDevice)
	for _, target := range []string{mediaServerSearchTarget, ssdp.All} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		services, err := ssdp.Search(target, waitSec, "")
		if err != nil {
			// A failed pass is not fatal; the other pass may still answer.
			continue
		}
		for _, svc := range services {
			if svc.USN == "" {
				continue
			}
			if _, ok := seen[svc.USN]; ok {
				continue
			}
			seen[svc.USN] = models.UPnPDevice{
				USN:          svc.USN,
				Location:     svc.Location,
				Server:       svc.Server,
				SearchTarget: svc.Type,
			}
		}
	}

	devices := make([]models.UPnPDevice, 0, len(seen))
	for _, d := range seen {
		devices = append(devices, d)
	}
	return devices, nil
}

type deviceDescription struct {
	Device struct {
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
		ServiceList  struct {
			Services []struct {
				ServiceType string `xml:"serviceType"`
			} `xml:"service"`
		} `xml:"serviceList"`
	} `xml:"device"`
}

// DeviceInfo fetches and parses the device description document referenced by
// the discovery response.
func (c *UPnPClient) DeviceInfo(ctx context.Context, device models.UPnPDevice) (models.UPnPDevice, error) {
	if device.Location == "" {
		return device, fmt.Errorf("device %q has no description location", device.USN)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, device.Location, nil)
	if err != nil {
		return device, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return device, fmt.Errorf("%w: fetch device description: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return device, fmt.Errorf("device description returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return device, err
	}
	var desc deviceDescription
	if err := xml.Unmarshal(body, &desc); err != nil {
		return device, fmt.Errorf("parse device description: %w", err)
	}

	device.FriendlyName = desc.Device.FriendlyName
	device.Manufacturer = desc.Device.Manufacturer
	device.ModelName = desc.Device.ModelName
	device.Services = device.Services[:0]
	for _, svc := range desc.Device.ServiceList.Services {
		device.Services = append(device.Services, svc.ServiceType)
	}
	return device, nil
}
