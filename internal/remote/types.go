package remote

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Account is a billing account visible to the authenticated credential
type Account struct {
	Code             string           `json:"code"`
	Address          string           `json:"address"`
	Email            string           `json:"email"`
	Balance          *decimal.Decimal `json:"balance"`
	IsControlling    bool             `json:"is_controlling"`
	IsControlled     bool             `json:"is_controlled"`
	ControlledByCode string           `json:"controlled_by_code,omitempty"`

	DigitalInvoicesEmail        string `json:"digital_invoices_email"`
	DigitalInvoicesEnabled      bool   `json:"digital_invoices_enabled"`
	DigitalInvoicesIgnored      bool   `json:"digital_invoices_ignored"`
	DigitalInvoicesEmailComment string `json:"digital_invoices_email_comment"`
}

// Meter is a metering device attached to an account
type Meter struct {
	Code        string `json:"code"`
	AccountCode string `json:"account_code"`
	Status      string `json:"status"`
	Type        string `json:"type"`
	Model       string `json:"model"`

	ServiceName             string   `json:"service_name"`
	ServiceType             string   `json:"service_type"`
	InstallLocation         string   `json:"install_location"`
	Precision               *int     `json:"precision"`
	TransmissionCoefficient *float64 `json:"transmission_coefficient"`

	CheckupStatus       string     `json:"checkup_status"`
	CheckupURL          string     `json:"checkup_url"`
	CheckupDate         *time.Time `json:"checkup_date"`
	LastCheckupDate     *time.Time `json:"last_checkup_date"`
	LastIndicationsDate *time.Time `json:"last_indications_date"`

	Zones map[string]Zone `json:"zones"`
}

// ZoneIDs returns the meter's zone identifiers in sorted order
func (m *Meter) ZoneIDs() []string {
	ids := make([]string, 0, len(m.Zones))
	for id := range m.Zones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Zone is a single tariff zone of a meter
type Zone struct {
	Identifier              string   `json:"identifier"`
	Name                    string   `json:"name"`
	Label                   string   `json:"label"`
	LastIndication          *float64 `json:"last_indication"`
	MaxIndicationDifference *float64 `json:"max_indication_difference"`
}

// Baseline returns the last known indication, 0 when absent
func (z Zone) Baseline() float64 {
	if z.LastIndication == nil {
		return 0
	}
	return *z.LastIndication
}

// Payment is a single payment made to an account
type Payment struct {
	Amount        decimal.Decimal `json:"amount"`
	PaidAt        time.Time       `json:"paid_at"`
	TransactionID string          `json:"transaction_id"`
	Source        string          `json:"source"`
}

// Indication is a reading event observed for a meter
type Indication struct {
	TakenOn         time.Time          `json:"taken_on"`
	MeterCode       string             `json:"meter_code"`
	MeterIdentifier string             `json:"meter_identifier"`
	Zones           map[string]float64 `json:"zones"`
	Status          string             `json:"status"`
}
