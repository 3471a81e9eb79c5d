package rollup

import (
	"time"

	"relaymart/internal/facts/pairing"
)

const TargetDepotDwellDaily = "agg_depot_dwell_daily"

// unknownDimension buckets rows whose dimension was absent on the source
// event instead of dropping them.
const unknownDimension = "UNKNOWN"

// NewDepotDwellDaily rolls fct_depot_dwell up into daily p95 dwell seconds
// per depot, bucketed on the in-scan timestamp.
func NewDepotDwellDaily() *Aggregator[pairing.DepotDwell] {
	return NewAggregator(
		TargetDepotDwellDaily,
		func(d pairing.DepotDwell) string {
			if d.DepotID == nil {
				return unknownDimension
			}
			return d.DepotID.String()
		},
		func(d pairing.DepotDwell) time.Time { return d.InTS },
		func(d pairing.DepotDwell) float64 { return d.DwellSeconds },
	)
}
