package config

import (
	"flag"
	"testing"

	"github.com/kovaden/tempesta/internal/suites"
)

func TestRegisterFlagsResolve(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fl := RegisterFlags(fs)
	if err := fs.Parse([]string{"-authmode=required", "-max-minor-ver=3", "-cert-req-ca-list=true"}); err != nil {
		t.Fatal(err)
	}
	c := fl.Resolve()
	if c.AuthMode != AuthModeRequired {
		t.Fatalf("AuthMode = %v, want Required", c.AuthMode)
	}
	if c.MaxMinorVer != 3 {
		t.Fatalf("MaxMinorVer = %d, want 3", c.MaxMinorVer)
	}
	if !c.CertReqCAList {
		t.Fatalf("CertReqCAList should be true")
	}
}

func TestPreferenceListDefaultsWhenUnset(t *testing.T) {
	c := &Config{}
	got := c.PreferenceList()
	if len(got) != len(suites.DefaultPreference) {
		t.Fatalf("expected default preference list")
	}
}

func TestPreferenceListOverride(t *testing.T) {
	c := &Config{Suites: []suites.ID{suites.TLS_RSA_WITH_AES_128_CBC_SHA}}
	got := c.PreferenceList()
	if len(got) != 1 || got[0] != suites.TLS_RSA_WITH_AES_128_CBC_SHA {
		t.Fatalf("override preference list not respected: %v", got)
	}
}
