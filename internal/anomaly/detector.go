package anomaly

import (
	"fmt"

	"github.com/septivank/utility-sync-worker/internal/remote"
)

// Detector flags readings that the remote is likely to reject
type Detector struct {
	// defaultMaxDifference applies to zones without their own bound; 0 disables it
	defaultMaxDifference float64
}

// NewDetector creates a new anomaly detector
func NewDetector(defaultMaxDifference float64) *Detector {
	return &Detector{defaultMaxDifference: defaultMaxDifference}
}

// DetectAnomaly checks value against the zone's last known indication
func (d *Detector) DetectAnomaly(zone remote.Zone, value float64) (bool, string) {
	if value < 0 {
		return true, "negative value"
	}

	// Nothing to compare against yet
	if zone.LastIndication == nil {
		return false, ""
	}

	baseline := *zone.LastIndication
	if value < baseline {
		return true, fmt.Sprintf("value %.2f is below last indication %.2f", value, baseline)
	}

	maxDifference := d.defaultMaxDifference
	if zone.MaxIndicationDifference != nil {
		maxDifference = *zone.MaxIndicationDifference
	}
	if maxDifference > 0 && value-baseline > maxDifference {
		return true, fmt.Sprintf("difference %.2f exceeds allowed %.2f", value-baseline, maxDifference)
	}

	return false, ""
}

// DetectAll checks every resolved zone value and returns reasons keyed by zone id
func (d *Detector) DetectAll(meter *remote.Meter, values map[string]float64) map[string]string {
	notes := make(map[string]string)
	for zoneID, value := range values {
		zone, ok := meter.Zones[zoneID]
		if !ok {
			continue
		}
		if isAnomaly, reason := d.DetectAnomaly(zone, value); isAnomaly {
			notes[zoneID] = reason
		}
	}
	return notes
}
