package ble

import "strings"

// Advertisement is one device heard during a discovery sweep.
type Advertisement struct {
	Address    string // uppercase, colon-separated
	Name       string
	DFUService bool // advertisement lists the DFU service UUID
}

// Select applies the match priority to one sweep's results: address
// (case-insensitive) first, then advertised name, then - only when
// requested - the DFU service flag. The first device to satisfy the
// highest-priority criterion wins.
func Select(seen []Advertisement, candidates []string, serviceFilter bool) (Advertisement, bool) {
	for _, adv := range seen {
		for _, c := range candidates {
			if strings.EqualFold(adv.Address, c) {
				return adv, true
			}
		}
	}
	for _, adv := range seen {
		for _, c := range candidates {
			if adv.Name != "" && adv.Name == c {
				return adv, true
			}
		}
	}
	if serviceFilter {
		for _, adv := range seen {
			if adv.DFUService {
				return adv, true
			}
		}
	}
	return Advertisement{}, false
}
