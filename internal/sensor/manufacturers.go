package sensor

import (
	"strings"
)

// LookupManufacturer returns a short name for a Bluetooth SIG company ID,
// limited to vendors that ship heart-rate sensors.
// See: https://www.bluetooth.com/specifications/assigned-numbers/
func LookupManufacturer(companyID uint16) string {
	return companyNames[companyID]
}

var companyNames = map[uint16]string{
	0x004C: "Apple",
	0x0075: "Samsung",
	0x006B: "Polar",
	0x009F: "Suunto",
	0x0087: "Garmin",
	0x038F: "Garmin",
	0x0310: "Xiaomi",
	0x0157: "Huawei",
	0x03DA: "Fitbit",
	0x0269: "Oura",
	0x0473: "Withings",
	0x0078: "Nike",
	0x0059: "Nordic",
	0x015D: "Espressif",
}

// DisplayName picks a name for a sensor: its advertised local name, else the
// manufacturer plus the last two address octets, else "Unknown".
func DisplayName(localName, address string, companyIDs ...uint16) string {
	if localName != "" {
		return localName
	}
	for _, id := range companyIDs {
		if mfr := LookupManufacturer(id); mfr != "" {
			return mfr + " " + addressSuffix(address)
		}
	}
	return "Unknown"
}

func addressSuffix(address string) string {
	parts := strings.Split(address, ":")
	if len(parts) < 2 {
		return address
	}
	return strings.Join(parts[len(parts)-2:], ":")
}

// MatchName reports whether name contains filter, ignoring case. An empty
// filter matches everything.
func MatchName(name, filter string) bool {
	return filter == "" || strings.Contains(strings.ToLower(name), strings.ToLower(filter))
}
