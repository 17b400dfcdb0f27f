package presence

import (
	"strings"
)

// DeviceReloadSentinel written to a device path asks the owning client to
// regenerate its device id and reload instead of logging out.
const DeviceReloadSentinel = "devicereload"

const usersRoot = "/users/"

// StatusPath is /users/{uid}/status.
func StatusPath(uid string) string { return usersRoot + uid + "/status" }

// DevicePath is /users/{uid}/device.
func DevicePath(uid string) string { return usersRoot + uid + "/device" }

// OwnerOf returns the uid segment of a /users/{uid}/... path.
func OwnerOf(path string) (string, bool) {
	if !strings.HasPrefix(path, usersRoot) {
		return "", false
	}
	rest := path[len(usersRoot):]
	uid, leaf, ok := strings.Cut(rest, "/")
	if !ok || uid == "" || leaf == "" {
		return "", false
	}
	return uid, true
}

// ValidPath rejects empty segments and characters the redis backend uses as
// separators.
func ValidPath(path string) bool {
	if !strings.HasPrefix(path, "/") || strings.ContainsAny(path, "|\n\r\x00") {
		return false
	}
	for _, seg := range strings.Split(path[1:], "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
