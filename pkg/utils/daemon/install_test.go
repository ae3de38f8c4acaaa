package daemon

import (
	"strings"
	"testing"
)

func TestUnit(t *testing.T) {
	u := Unit("/usr/local/bin/scale", "/etc/scale.json")

	if !strings.Contains(u, "ExecStart=/usr/local/bin/scale daemon --config /etc/scale.json\n") {
		t.Errorf("unexpected ExecStart in unit:\n%s", u)
	}
	if strings.Contains(u, "/path/to/") {
		t.Errorf("placeholder left in unit:\n%s", u)
	}
	if !strings.Contains(u, "WantedBy=multi-user.target") {
		t.Errorf("unit is not enabled for multi-user.target:\n%s", u)
	}
}
