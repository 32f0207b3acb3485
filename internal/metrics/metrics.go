// Package metrics registers the prometheus vectors every actor reports
// through, grounded on pobradovic08-route-beacon-ri/internal/metrics:
// one package-level var block of vectors, labeled by the dimension each
// subsystem naturally varies on.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BGPPeerState reports the current FSM state per peer (0=Idle ... 5=Established).
	BGPPeerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ridged_bgp_peer_state",
			Help: "Current BGP FSM state of a peer.",
		},
		[]string{"peer"},
	)

	BGPMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridged_bgp_messages_total",
			Help: "BGP PDUs sent or received, by kind and direction.",
		},
		[]string{"peer", "kind", "direction"},
	)

	BGPRIBPrefixes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ridged_bgp_rib_prefixes",
			Help: "Prefix count per BGP RIB table.",
		},
		[]string{"table", "afi"},
	)

	ISISAdjacencies = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ridged_isis_adjacencies",
			Help: "IS-IS adjacencies in Up state, per link and level.",
		},
		[]string{"link", "level"},
	)

	ISISSPFRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ridged_isis_spf_run_duration_seconds",
			Help:    "Wall-clock duration of an SPF run.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"level"},
	)

	ISISLSDBEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ridged_isis_lsdb_entries",
			Help: "LSDB entry count per level.",
		},
		[]string{"level"},
	)

	RIBRoutes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ridged_rib_routes",
			Help: "Selected RIB routes, by AFI and protocol origin.",
		},
		[]string{"afi", "protocol"},
	)

	RIBNexthopGroups = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ridged_rib_nexthop_groups",
			Help: "Interned nexthop groups currently referenced.",
		},
		[]string{},
	)

	FIBOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridged_fib_operations_total",
			Help: "FIB driver operations, by kind and result.",
		},
		[]string{"kind", "result"},
	)
)

// MustRegister registers every vector above against r.
func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		BGPPeerState,
		BGPMessagesTotal,
		BGPRIBPrefixes,
		ISISAdjacencies,
		ISISSPFRunDuration,
		ISISLSDBEntries,
		RIBRoutes,
		RIBNexthopGroups,
		FIBOperationsTotal,
	)
}
