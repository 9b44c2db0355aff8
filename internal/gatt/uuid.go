package gatt

import "strings"

// sigBaseTail is the tail of the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb) once dashes are stripped.
const sigBaseTail = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no
// dashes). Handles standard UUID format (with dashes), braced format, and an
// optional 0x prefix (e.g. "0x2A19" -> "2a19"). Full 128-bit UUIDs built on
// the Bluetooth SIG base are collapsed to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.ReplaceAll(u, "{", "")
	u = strings.ReplaceAll(u, "}", "")
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseTail) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	if uuids == nil {
		return nil
	}
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs as-is.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
