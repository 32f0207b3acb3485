// Command ridged is the daemon entrypoint: it loads the bootstrap
// configuration, wires the central RIB to the kernel FIB driver, and starts
// the BGP and IS-IS instances against that shared RIB.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ridged/ridged/internal/bgp"
	"github.com/ridged/ridged/internal/config"
	"github.com/ridged/ridged/internal/fib"
	"github.com/ridged/ridged/internal/isis"
	"github.com/ridged/ridged/internal/isis/packet"
	"github.com/ridged/ridged/internal/log"
	"github.com/ridged/ridged/internal/metrics"
	"github.com/ridged/ridged/internal/rib"
)

func main() {
	configPath := flag.String("config", "/etc/ridged/ridged.yaml", "path to the bootstrap configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ridged: config:", err)
		os.Exit(1)
	}

	logger, err := log.New(cfg.Service.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ridged: log:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	serveMetrics(cfg.Service.MetricsListen, logger)

	driver := fib.NewNetlinkDriver(logger)
	centralRIB := rib.New(driver, logger)

	routerID, err := parseRouterID(cfg.BGP.RouterID)
	if err != nil {
		logger.Fatal("invalid bgp router_id", zap.Error(err))
	}
	bgpInstance := bgp.NewInstance(bgp.InstanceConfig{
		LocalAS:    cfg.BGP.LocalAS,
		RouterID:   routerID,
		ListenAddr: fmt.Sprintf(":%d", cfg.BGP.ListenPort),
	}, centralRIB, logger)

	for _, p := range cfg.Peers {
		addr, err := netip.ParseAddr(p.Address)
		if err != nil {
			logger.Fatal("invalid peer address", zap.String("address", p.Address), zap.Error(err))
		}
		holdTime := uint16(p.HoldTimeSeconds)
		if holdTime == 0 {
			holdTime = 180
		}
		bgpInstance.AddPeer(bgp.PeerConfig{
			Address:              addr,
			RemoteAS:             p.RemoteAS,
			Passive:              p.Passive,
			RouteReflectorClient: p.RouteReflector,
			ConfiguredHoldTime:   holdTime,
		})
	}

	systemID, err := parseSystemID(cfg.ISIS.SystemID)
	if err != nil {
		logger.Fatal("invalid isis system_id", zap.String("system_id", cfg.ISIS.SystemID), zap.Error(err))
	}
	areaAddrs, err := parseAreaAddrs(cfg.ISIS.AreaID)
	if err != nil {
		logger.Fatal("invalid isis area_id", zap.String("area_id", cfg.ISIS.AreaID), zap.Error(err))
	}

	transport := isis.NewEthernetTransport(logger)
	isisInstance := isis.NewInstance(isis.InstanceConfig{
		SystemID:  systemID,
		AreaAddrs: areaAddrs,
		Hostname:  cfg.ISIS.Hostname,
		HoldTime:  90,
		SRGBBase:  16000,
		SRGBSize:  8000,
	}, transport, centralRIB, logger)

	for i, lc := range cfg.Links {
		isisInstance.AddLink(isisLinkConfig(lc, i+1))
	}

	go isisInstance.Run()

	if err := bgpInstance.ListenAndServe(); err != nil {
		logger.Fatal("bgp listen", zap.Error(err))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	isisInstance.Stop()
	bgpInstance.Close()
	driver.Close()
}

func serveMetrics(addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server exited", zap.Error(err))
		}
	}()
}

func parseRouterID(s string) (uint32, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, err
	}
	if !addr.Is4() {
		return 0, fmt.Errorf("router_id %q is not an IPv4 address", s)
	}
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// parseSystemID accepts the conventional IS-IS NET system-id notation
// (four hex digits, dot, four hex digits, dot, four hex digits -- e.g.
// "1921.6800.1001") and packs it into the six raw bytes packet.SystemID
// carries on the wire.
func parseSystemID(s string) (packet.SystemID, error) {
	var id packet.SystemID
	hex := strings.ReplaceAll(s, ".", "")
	if len(hex) != 12 {
		return id, fmt.Errorf("system-id %q: expected 12 hex digits", s)
	}
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return id, err
		}
		id[i] = byte(v)
	}
	return id, nil
}

// parseAreaAddrs accepts one or more dot-separated hex area addresses
// separated by commas (e.g. "49.0001" or "49.0001,49.0002").
func parseAreaAddrs(s string) ([][]byte, error) {
	var out [][]byte
	for _, area := range strings.Split(s, ",") {
		area = strings.TrimSpace(area)
		if area == "" {
			continue
		}
		hex := strings.ReplaceAll(area, ".", "")
		if len(hex)%2 != 0 {
			return nil, fmt.Errorf("area %q: odd number of hex digits", area)
		}
		raw := make([]byte, len(hex)/2)
		for i := range raw {
			v, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
			if err != nil {
				return nil, err
			}
			raw[i] = byte(v)
		}
		out = append(out, raw)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one area address is required")
	}
	return out, nil
}

func isisLinkConfig(lc config.LinkConfig, index int) isis.LinkConfig {
	level := packet.LevelL1L2
	switch strings.ToUpper(lc.Level) {
	case "L1":
		level = packet.LevelL1
	case "L2":
		level = packet.LevelL2
	}

	linkType := isis.LinkLAN
	if strings.EqualFold(lc.Type, "point-to-point") || strings.EqualFold(lc.Type, "p2p") {
		linkType = isis.LinkPointToPoint
	}

	hello := lc.HelloSeconds
	if hello == 0 {
		hello = 10
	}
	hold := lc.HoldSeconds
	if hold == 0 {
		hold = 30
	}
	csnp := lc.CSNPSeconds
	if csnp == 0 {
		csnp = 10
	}

	var prefixSID *uint32
	if lc.HasPrefixSID {
		v := lc.PrefixSID
		prefixSID = &v
	}

	var mac [6]byte
	mtu := 1500
	if iface, err := net.InterfaceByName(lc.Name); err == nil {
		copy(mac[:], iface.HardwareAddr)
		mtu = iface.MTU
	}

	return isis.LinkConfig{
		Name:          lc.Name,
		Index:         index,
		MAC:           mac,
		MTU:           mtu,
		Level:         level,
		Type:          linkType,
		Metric:        lc.Metric,
		HelloInterval: secondsToDuration(hello),
		HoldTime:      uint16(hold),
		CSNPInterval:  secondsToDuration(csnp),
		Priority:      lc.Priority,
		PrefixSID:     prefixSID,
	}
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
