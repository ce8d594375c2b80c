// ABOUTME: mDNS advertisement and browsing of pass-through monitor endpoints
// ABOUTME: Lets watch clients find a running session on the local network
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/Resonate-Protocol/playthrough/internal/version"
	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service advertised by the monitor
const ServiceType = "_playthrough._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // websocket path advertised in TXT (default: /ws)
}

// Manager handles mDNS operations
type Manager struct {
	config   Config
	ctx      context.Context
	cancel   context.CancelFunc
	monitors chan *MonitorInfo
}

// MonitorInfo describes a discovered monitor endpoint
type MonitorInfo struct {
	Name    string
	Host    string
	Port    int
	Path    string
	Version string
}

// Addr returns host:port
func (m *MonitorInfo) Addr() string {
	return net.JoinHostPort(m.Host, fmt.Sprint(m.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Path == "" {
		config.Path = "/ws"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		monitors: make(chan *MonitorInfo, 10),
	}
}

// Advertise publishes the monitor endpoint until Stop is called
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(m.config.Path),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for monitors until Stop is called
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				info := entryToMonitor(entry)
				if info == nil {
					continue
				}
				log.Printf("Discovered monitor: %s at %s", info.Name, info.Addr())

				select {
				case m.monitors <- info:
				case <-m.ctx.Done():
				}
			}
		}()

		params := &mdns.QueryParam{
			Service:             ServiceType,
			Domain:              "local",
			Timeout:             3 * time.Second,
			Entries:             entries,
			WantUnicastResponse: false,
		}

		if err := mdns.Query(params); err != nil {
			log.Printf("mDNS query failed: %v", err)
		}
		close(entries)
		<-done
	}
}

// Monitors returns the channel of discovered monitors
func (m *Manager) Monitors() <-chan *MonitorInfo {
	return m.monitors
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// Lookup runs a single query and returns every monitor that answered within timeout
func Lookup(ctx context.Context, timeout time.Duration) ([]*MonitorInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 10)
	var found []*MonitorInfo
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			if info := entryToMonitor(entry); info != nil {
				found = append(found, info)
			}
		}
	}()

	params := &mdns.QueryParam{
		Service: ServiceType,
		Domain:  "local",
		Timeout: timeout,
		Entries: entries,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- mdns.Query(params)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		// the query ends on its own once the timeout passes
		err = <-errCh
		if err == nil {
			err = ctx.Err()
		}
	}
	close(entries)
	<-done

	if err != nil {
		return found, fmt.Errorf("mdns query failed: %w", err)
	}
	return found, nil
}

// txtRecords builds the TXT entries advertised with the service
func txtRecords(path string) []string {
	return []string{
		"path=" + path,
		"version=" + version.Version,
	}
}

// entryToMonitor converts an mDNS answer; nil when it has no usable address
func entryToMonitor(entry *mdns.ServiceEntry) *MonitorInfo {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return nil
	}

	info := &MonitorInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: host,
		Port: entry.Port,
		Path: "/ws",
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "path":
			info.Path = value
		case "version":
			info.Version = value
		}
	}
	return info
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
