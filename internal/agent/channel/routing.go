package channel

import (
	"regexp"
	"strings"
)

var pageIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`profile\.php\?id=(\d+)`),
	regexp.MustCompile(`facebook\.com/people/[^/]+/(\d+)`),
	regexp.MustCompile(`facebook\.com/[^/]+/(\d+)`),
}

// PageID extracts the numeric page id from a stored page link. Plain ids
// are returned unchanged; links without a recognizable id return "".
func PageID(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if isDigits(link) {
		return link
	}
	for _, re := range pageIDPatterns {
		if m := re.FindStringSubmatch(link); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

const UnknownCountry = "Unknown"

// Calling codes, longest prefix wins.
var phoneCountries = map[string]string{
	"1": "United States", "1242": "Bahamas", "1246": "Barbados", "1876": "Jamaica", "1868": "Trinidad and Tobago",
	"20": "Egypt", "27": "South Africa", "30": "Greece", "31": "Netherlands", "32": "Belgium", "33": "France",
	"34": "Spain", "36": "Hungary", "39": "Italy", "40": "Romania", "41": "Switzerland", "43": "Austria",
	"44": "United Kingdom", "45": "Denmark", "46": "Sweden", "47": "Norway", "48": "Poland", "49": "Germany",
	"51": "Peru", "52": "Mexico", "54": "Argentina", "55": "Brazil", "56": "Chile", "57": "Colombia", "58": "Venezuela",
	"60": "Malaysia", "61": "Australia", "62": "Indonesia", "63": "Philippines", "64": "New Zealand", "65": "Singapore",
	"66": "Thailand", "7": "Russia", "81": "Japan", "82": "South Korea", "84": "Vietnam", "86": "China",
	"90": "Turkey", "91": "India", "92": "Pakistan", "94": "Sri Lanka", "212": "Morocco", "233": "Ghana",
	"234": "Nigeria", "254": "Kenya", "351": "Portugal", "353": "Ireland", "358": "Finland", "380": "Ukraine",
	"852": "Hong Kong", "880": "Bangladesh", "886": "Taiwan", "966": "Saudi Arabia", "971": "United Arab Emirates",
	"972": "Israel",
}

var localeCountries = map[string]string{
	"US": "United States", "CA": "Canada", "MX": "Mexico", "BR": "Brazil", "AR": "Argentina", "CL": "Chile",
	"CO": "Colombia", "PE": "Peru", "GB": "United Kingdom", "IE": "Ireland", "FR": "France", "DE": "Germany",
	"ES": "Spain", "IT": "Italy", "PT": "Portugal", "NL": "Netherlands", "BE": "Belgium", "CH": "Switzerland",
	"AT": "Austria", "SE": "Sweden", "NO": "Norway", "DK": "Denmark", "FI": "Finland", "PL": "Poland",
	"RU": "Russia", "UA": "Ukraine", "TR": "Turkey", "IN": "India", "PK": "Pakistan", "BD": "Bangladesh",
	"CN": "China", "TW": "Taiwan", "HK": "Hong Kong", "JP": "Japan", "KR": "South Korea", "TH": "Thailand",
	"VN": "Vietnam", "MY": "Malaysia", "SG": "Singapore", "ID": "Indonesia", "PH": "Philippines",
	"AU": "Australia", "NZ": "New Zealand", "ZA": "South Africa", "NG": "Nigeria", "KE": "Kenya", "EG": "Egypt",
	"MA": "Morocco", "SA": "Saudi Arabia", "AE": "United Arab Emirates", "IL": "Israel",
}

// CountryFromPhone maps an E.164-ish number to a country name.
func CountryFromPhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	for n := 4; n >= 1; n-- {
		if len(digits) < n {
			continue
		}
		if c, ok := phoneCountries[digits[:n]]; ok {
			return c
		}
	}
	return UnknownCountry
}

// CountryFromLocale maps a locale such as "en_US" to a country name.
func CountryFromLocale(locale string) string {
	parts := strings.Split(locale, "_")
	if len(parts) != 2 {
		return UnknownCountry
	}
	code := strings.ToUpper(parts[1])
	if c, ok := localeCountries[code]; ok {
		return c
	}
	return code
}
