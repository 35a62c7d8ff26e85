package types

import (
	"net/netip"
	"testing"

	yaml "gopkg.in/yaml.v2"
)

func TestParseIP(t *testing.T) {
	tests := []struct {
		input   string
		want    netip.Addr
		wantErr bool
	}{
		{input: "192.168.1.100", want: netip.MustParseAddr("192.168.1.100")},
		{input: "::ffff:10.0.0.1", want: netip.MustParseAddr("10.0.0.1")},
		{input: "2001:db8::1", wantErr: true},
		{input: "300.1.1.1", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseIP(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIP() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.Addr() != tt.want {
				t.Fatalf("ParseIP() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseIPMask(t *testing.T) {
	m, err := ParseIPMask("255.255.254.0")
	if err != nil {
		t.Fatalf("ParseIPMask() error = %v", err)
	}
	if m.Ones() != 23 {
		t.Fatalf("Ones() = %d, want 23", m.Ones())
	}
	if _, err := ParseIPMask("255.0.255.0"); err == nil {
		t.Fatal("ParseIPMask() accepted a non-contiguous mask")
	}
}

func TestParseCIDRMasks(t *testing.T) {
	p, err := ParseCIDR("192.168.1.77/24")
	if err != nil {
		t.Fatalf("ParseCIDR() error = %v", err)
	}
	if p.String() != "192.168.1.0/24" {
		t.Fatalf("ParseCIDR() = %s, want 192.168.1.0/24", p)
	}
}

func TestIPScan(t *testing.T) {
	var ip IP
	if err := ip.Scan([]uint8("10.0.0.5")); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	v, err := ip.Value()
	if err != nil || v != "10.0.0.5" {
		t.Fatalf("Value() = %v, %v", v, err)
	}
	if err := ip.Scan(42); err == nil {
		t.Fatal("Scan(int) succeeded")
	}
}

func TestHardwareAddrScan(t *testing.T) {
	var hw HardwareAddr
	if err := hw.Scan("02:00:00:00:00:01"); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if hw.String() != "02:00:00:00:00:01" {
		t.Fatalf("String() = %s", hw)
	}
}

func TestYAML(t *testing.T) {
	var doc struct {
		Addr    IP     `yaml:"addr"`
		Mask    IPMask `yaml:"mask"`
		Network Prefix `yaml:"network"`
	}
	in := "addr: 192.168.1.1\nmask: 255.255.255.0\nnetwork: 192.168.1.0/24\n"
	if err := yaml.Unmarshal([]byte(in), &doc); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	if string(out) != in {
		t.Fatalf("yaml.Marshal() = %q, want %q", out, in)
	}
	if err := yaml.Unmarshal([]byte("addr: nope\n"), &doc); err == nil {
		t.Fatal("yaml.Unmarshal() accepted an invalid address")
	}
}
