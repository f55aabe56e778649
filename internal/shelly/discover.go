package shelly

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/grandcat/zeroconf"
)

const MDNSService = "_shelly._tcp."

var modelRe = regexp.MustCompile(`^(?P<model>[a-zA-Z0-9]+)-(?P<serial>[a-zA-Z0-9]+)\.local\.?$`)

// Device is a Shelly found on the local network.
type Device struct {
	Instance string   `json:"instance"`
	Host     string   `json:"host"`
	Model    string   `json:"model"`
	Kind     string   `json:"kind,omitempty"`
	Port     int      `json:"port"`
	Addrs    []string `json:"addrs"`
	Text     []string `json:"txt,omitempty"`
}

// DeviceFromEntry converts an mDNS answer. Kind is set for the models the
// integration can use.
func DeviceFromEntry(entry *zeroconf.ServiceEntry) Device {
	d := Device{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		Text:     entry.Text,
	}
	if m := modelRe.FindStringSubmatch(entry.HostName); m != nil {
		d.Model = m[1]
	}
	switch model := strings.ToLower(d.Model); {
	case strings.HasPrefix(model, "shellypro3em"):
		d.Kind = KindPro3EM.String()
	case strings.HasPrefix(model, "shellyplug"):
		d.Kind = KindPlugs.String()
	}
	for _, ip := range entry.AddrIPv4 {
		d.Addrs = append(d.Addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		if !ip.IsLinkLocalUnicast() {
			d.Addrs = append(d.Addrs, ip.String())
		}
	}
	return d
}

// Discover browses mDNS for Shelly devices until the timeout elapses.
func Discover(ctx context.Context, log logr.Logger, timeout time.Duration) ([]Device, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, MDNSService, "local.", entries); err != nil {
		return nil, fmt.Errorf("failed to browse %s: %w", MDNSService, err)
	}

	seen := make(map[string]Device)
	for {
		select {
		case <-ctx.Done():
			return sortedDevices(seen), nil
		case entry, ok := <-entries:
			if !ok {
				return sortedDevices(seen), nil
			}
			if entry == nil {
				continue
			}
			d := DeviceFromEntry(entry)
			log.V(1).Info("Found", "instance", d.Instance, "host", d.Host, "addrs", d.Addrs)
			seen[d.Instance] = d
		}
	}
}

func sortedDevices(m map[string]Device) []Device {
	out := make([]Device, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}
