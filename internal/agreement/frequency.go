package agreement

import (
	"fmt"
	"strings"
)

// intervalNames maps the provider's interval tokens to display words. Unknown
// tokens fall back to "Month", the provider's historical default.
var intervalNames = map[string]string{
	"day":   "Day",
	"week":  "Week",
	"month": "Month",
	"year":  "Year",
}

// ordinals covers the frequency range the provider actually issues.
var ordinals = map[int]string{
	1: "",
	2: "2nd",
	3: "3rd",
	4: "4th",
	5: "5th",
	6: "6th",
	7: "7th",
}

// FrequencyPhrase renders a human-readable billing cadence, e.g.
// "Every Month" or "Every 3rd Week". Out-of-range frequencies use a generic
// "Every <n>th <Interval>" form rather than failing.
func FrequencyPhrase(frequency int, interval string) string {
	name, ok := intervalNames[strings.ToLower(strings.TrimSpace(interval))]
	if !ok {
		name = "Month"
	}
	ord, ok := ordinals[frequency]
	if !ok {
		return fmt.Sprintf("Every %dth %s", frequency, name)
	}
	if ord == "" {
		return "Every " + name
	}
	return fmt.Sprintf("Every %s %s", ord, name)
}
