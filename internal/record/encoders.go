package record

import (
	"time"

	"github.com/septivank/utility-sync-worker/internal/remote"
)

const (
	AttrCode                        = "code"
	AttrAccountCode                 = "account_code"
	AttrAddress                     = "address"
	AttrEmail                       = "email"
	AttrBalance                     = "balance"
	AttrIsControlled                = "is_controlled"
	AttrIsControlling               = "is_controlling"
	AttrControlledByCode            = "controlled_by_code"
	AttrDigitalInvoicesEmail        = "digital_invoices_email"
	AttrDigitalInvoicesEnabled      = "digital_invoices_enabled"
	AttrDigitalInvoicesIgnored      = "digital_invoices_ignored"
	AttrDigitalInvoicesEmailComment = "digital_invoices_email_comment"

	AttrMeterCode               = "meter_code"
	AttrMeterID                 = "meter_id"
	AttrModel                   = "model"
	AttrStatus                  = "status"
	AttrType                    = "type"
	AttrServiceName             = "service_name"
	AttrServiceType             = "service_type"
	AttrInstallLocation         = "install_location"
	AttrPrecision               = "precision"
	AttrTransmissionCoefficient = "transmission_coefficient"
	AttrCheckupStatus           = "checkup_status"
	AttrCheckupDate             = "checkup_date"
	AttrLastCheckupDate         = "last_checkup_date"
	AttrCheckupURL              = "checkup_url"
	AttrLastIndicationsDate     = "last_indications_date"

	AttrAmount        = "amount"
	AttrPaidAt        = "paid_at"
	AttrTransactionID = "transaction_id"
	AttrSource        = "source"

	AttrTakenOn = "taken_on"
	AttrZones   = "zones"
)

// AccountAttributes converts an account to its attribute form
func AccountAttributes(account *remote.Account) map[string]any {
	attrs := map[string]any{
		AttrCode:                        account.Code,
		AttrAddress:                     account.Address,
		AttrEmail:                       account.Email,
		AttrIsControlled:                account.IsControlled,
		AttrIsControlling:               account.IsControlling,
		AttrDigitalInvoicesIgnored:      account.DigitalInvoicesIgnored,
		AttrDigitalInvoicesEmail:        account.DigitalInvoicesEmail,
		AttrDigitalInvoicesEnabled:      account.DigitalInvoicesEnabled,
		AttrDigitalInvoicesEmailComment: account.DigitalInvoicesEmailComment,
	}
	if account.IsControlled {
		attrs[AttrControlledByCode] = account.ControlledByCode
	}
	return attrs
}

// MeterAttributes converts a meter to its attribute form, flattening zones
// into zone_<id>_<field> keys
func MeterAttributes(meter *remote.Meter) map[string]any {
	attrs := map[string]any{
		AttrMeterCode:               meter.Code,
		AttrAccountCode:             meter.AccountCode,
		AttrModel:                   meter.Model,
		AttrServiceName:             meter.ServiceName,
		AttrServiceType:             meter.ServiceType,
		AttrStatus:                  meter.Status,
		AttrTransmissionCoefficient: meter.TransmissionCoefficient,
		AttrInstallLocation:         meter.InstallLocation,
		AttrPrecision:               meter.Precision,
		AttrCheckupStatus:           meter.CheckupStatus,
		AttrCheckupDate:             isoOrNil(meter.CheckupDate),
		AttrLastCheckupDate:         isoOrNil(meter.LastCheckupDate),
		AttrCheckupURL:              meter.CheckupURL,
		AttrLastIndicationsDate:     isoOrNil(meter.LastIndicationsDate),
		AttrType:                    meter.Type,
	}

	for _, zoneID := range meter.ZoneIDs() {
		zone := meter.Zones[zoneID]
		prefix := "zone_" + zoneID + "_"
		attrs[prefix+"name"] = zone.Name
		attrs[prefix+"label"] = zone.Label
		attrs[prefix+"last_indication"] = zone.Baseline()
		attrs[prefix+"max_difference"] = zone.MaxIndicationDifference
		attrs[prefix+"identifier"] = zone.Identifier
	}

	return attrs
}

// PaymentAttributes converts a payment to its attribute form
func PaymentAttributes(payment *remote.Payment) map[string]any {
	amount, _ := payment.Amount.Float64()
	return map[string]any{
		AttrAmount:        amount,
		AttrPaidAt:        payment.PaidAt.Format(time.RFC3339),
		AttrTransactionID: payment.TransactionID,
		AttrSource:        payment.Source,
	}
}

// IndicationAttributes converts an indication to its attribute form
func IndicationAttributes(indication *remote.Indication) map[string]any {
	return map[string]any{
		AttrMeterID:   indication.MeterIdentifier,
		AttrTakenOn:   indication.TakenOn.Format(time.RFC3339),
		AttrMeterCode: indication.MeterCode,
		AttrStatus:    indication.Status,
		AttrZones:     indication.Zones,
	}
}

func isoOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
