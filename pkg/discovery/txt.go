package discovery

import "strings"

// ParseTXT parses raw key=value TXT record strings into a map.
// Records without '=' or with an empty key are skipped. When a key
// repeats, the last value wins.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			key := record[:idx]
			value := record[idx+1:]
			result[key] = value
		}
	}
	return result
}
