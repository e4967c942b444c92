package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKeyValueLines(t *testing.T) {
	out := "booting...\nVM_NAME=alice_my-vm\nSSH_PORT=2222\nVNC_PORT=5901\n"

	res := Parse(out)

	assert.False(t, res.Structured)
	assert.Equal(t, "alice_my-vm", res.Fields.ExternalName)
	assert.Equal(t, "2222", res.Fields.SSH)
	assert.Equal(t, "5901", res.Fields.VNC)
	assert.Equal(t, "VNC_PORT=5901", res.Summary)
	assert.Empty(t, res.Fields.Extra)
}

func TestParseLabeledLinesRoundTrip(t *testing.T) {
	ip := "10.20.30.40"
	ssh := "ssh dev@10.20.30.40 -p 2222"
	vnc := "10.20.30.40:5901"
	out := "Provisioning complete\nIP: " + ip + "\nSSH: " + ssh + "\nVNC: " + vnc + "\n"

	res := Parse(out)

	assert.Equal(t, ip, res.Fields.IP)
	assert.Equal(t, ssh, res.Fields.SSH)
	assert.Equal(t, vnc, res.Fields.VNC)
}

func TestParseJSONObject(t *testing.T) {
	out := `{"vm_name": "bob_box", "ip": "192.168.1.9", "ssh_port": 22, "vnc_port": 5900, "region": "lab-2", "summary": "ready"}`

	res := Parse(out)

	assert.True(t, res.Structured)
	assert.Equal(t, "bob_box", res.Fields.ExternalName)
	assert.Equal(t, "192.168.1.9", res.Fields.IP)
	assert.Equal(t, "22", res.Fields.SSH)
	assert.Equal(t, "5900", res.Fields.VNC)
	assert.Equal(t, "ready", res.Summary)
	assert.Equal(t, map[string]string{"region": "lab-2"}, res.Fields.Extra)
}

func TestParseMalformedJSONFallsBackToLines(t *testing.T) {
	out := "{not json\nIP=10.0.0.1\n"

	res := Parse(out)

	assert.False(t, res.Structured)
	assert.Equal(t, "10.0.0.1", res.Fields.IP)
}

func TestParseBareIPv4(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"embedded", "machine reachable at 172.16.4.2 now", "172.16.4.2"},
		{"first wins", "a 10.0.0.1 b 10.0.0.2", "10.0.0.1"},
		{"octet out of range", "bogus 300.1.1.1 ok", ""},
		{"skip invalid take valid", "999.1.1.1 then 8.8.8.8", "8.8.8.8"},
		{"no address", "nothing here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.in).Fields.IP)
		})
	}
}

func TestParseEmptyBlobFallsBack(t *testing.T) {
	for _, in := range []string{"", "   \n\n\t\n"} {
		res := Parse(in)
		assert.True(t, res.Fields.Empty(), "fields for %q", in)
		assert.Equal(t, FallbackSummary, res.Summary)
	}
}

func TestParseUnknownKeysGoToExtra(t *testing.T) {
	res := Parse("ZONE=eu-1\nVM_NAME=x_y\n")

	assert.Equal(t, "x_y", res.Fields.ExternalName)
	assert.Equal(t, map[string]string{"ZONE": "eu-1"}, res.Fields.Extra)
}

func TestParseFirstValueWins(t *testing.T) {
	res := Parse("IP=10.0.0.1\nIP: 10.0.0.2\n")
	assert.Equal(t, "10.0.0.1", res.Fields.IP)
}

func TestLiveness(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"VM is active", true},
		{"STATUS: Active", true},
		{"VM is not active", false},
		{"inactive", false},
		{"deactivated", false},
		{"", false},
		{"running", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Liveness(tt.in), "Liveness(%q)", tt.in)
	}
}
