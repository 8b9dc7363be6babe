package obs

import "github.com/prometheus/client_golang/prometheus"

// buildInfo is a constant 1 gauge labelled with version and commit.
var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "IEPP API build information.",
	},
	[]string{"version", "commit"},
)

// SetBuildInfo publishes build_info{version, commit} 1. Init registers the gauge.
func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}
