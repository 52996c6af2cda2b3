package dfu

import (
	"fmt"
	"strconv"
	"strings"
)

// BumpLastOctet derives the bootloader-mode address heuristic: some
// devices advertise the application address with its last octet
// incremented by one (wrapping at 0xFF) while in update mode.
func BumpLastOctet(addr string) (string, bool) {
	if len(addr) != 17 || !strings.Contains(addr, ":") {
		return "", false
	}
	last, err := strconv.ParseUint(addr[15:], 16, 8)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%s%02X", addr[:15], byte(last+1)), true
}
