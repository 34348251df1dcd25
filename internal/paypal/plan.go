package paypal

import "github.com/gnupg/payproc/internal/perr"

// planFrequency maps a Recur code (1 = yearly, 4 = quarterly, 12 = monthly)
// onto PayPal's billing-plan payment-definition frequency/frequency_interval
// pair. Quarterly is expressed as three-month intervals, not a thirteen-week
// approximation, matching the daemon's actual plan payloads.
func planFrequency(recur int) (frequency string, interval int, err error) {
	switch recur {
	case 1:
		return "YEAR", 1, nil
	case 4:
		return "MONTH", 3, nil
	case 12:
		return "MONTH", 1, nil
	default:
		return "", 0, perr.MissingValue
	}
}

func recurText(recur int) string {
	switch recur {
	case 1:
		return "yearly"
	case 4:
		return "quarterly"
	case 12:
		return "monthly"
	default:
		return ""
	}
}
