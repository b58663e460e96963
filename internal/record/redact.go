package record

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Redactor rewrites sensitive attribute values in place. dateKeys hold
// timestamps, valueKeys hold identifying or monetary values.
type Redactor func(attrs map[string]any, dateKeys, valueKeys []string)

const presentationDate = "2000-01-01T00:00:00Z"

// DevPresentation substitutes deterministic stand-ins so the same input
// always renders the same placeholder
func DevPresentation(attrs map[string]any, dateKeys, valueKeys []string) {
	for _, key := range dateKeys {
		if v, ok := attrs[key]; ok && v != nil {
			attrs[key] = presentationDate
		}
	}
	for _, key := range valueKeys {
		v, ok := attrs[key]
		if !ok || v == nil {
			continue
		}
		attrs[key] = standIn(v)
	}
}

func standIn(v any) any {
	h := fnv.New32a()
	_, _ = fmt.Fprint(h, v)
	sum := h.Sum32()

	switch s := v.(type) {
	case string:
		if s == "" {
			return s
		}
		digits := fmt.Sprintf("%010d", sum)
		return strings.Repeat(digits, len(s)/len(digits)+1)[:len(s)]
	case bool:
		return s
	case float64, float32, int, int64:
		return float64(sum % 10000)
	default:
		return "#" + fmt.Sprintf("%08x", sum)
	}
}

// RedactPayment applies redact to a payment attribute form built outside a record
func RedactPayment(attrs map[string]any, redact Redactor) map[string]any {
	if redact != nil {
		redact(attrs, []string{AttrPaidAt}, []string{AttrAmount, AttrSource})
	}
	return attrs
}

// RedactIndication applies redact to an indication attribute form
func RedactIndication(attrs map[string]any, redact Redactor) map[string]any {
	if redact != nil {
		redact(attrs, []string{AttrTakenOn}, []string{AttrMeterCode, AttrMeterID, AttrZones})
	}
	return attrs
}
