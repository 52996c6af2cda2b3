package dfu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBumpLastOctet(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02", true},
		{"aa:bb:cc:dd:ee:0f", "aa:bb:cc:dd:ee:10", true},
		{"AA:BB:CC:DD:EE:FF", "AA:BB:CC:DD:EE:00", true}, // wraps
		{"AA:BB:CC:DD:EE", "", false},
		{"not an address!!", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := BumpLastOctet(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
