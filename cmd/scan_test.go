package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sw33tLie/xtmscope/pkg/matcher"
	"github.com/sw33tLie/xtmscope/pkg/observables"
	"github.com/sw33tLie/xtmscope/pkg/router"
	"github.com/sw33tLie/xtmscope/pkg/storage"
)

func TestScanMessage(t *testing.T) {
	tests := []struct {
		family string
		want   router.MessageType
	}{
		{"", router.ScanAll},
		{"all", router.ScanAll},
		{"OpenCTI", router.ScanPage},
		{"openaev", router.ScanOtherPlatform},
	}
	for _, tt := range tests {
		got, err := scanMessage(tt.family)
		if err != nil || got != tt.want {
			t.Errorf("scanMessage(%q) = %s, %v; want %s", tt.family, got, err, tt.want)
		}
	}
	if _, err := scanMessage("misp"); err == nil {
		t.Error("expected an error for an unknown family")
	}
}

func TestPrintScan(t *testing.T) {
	res := router.ScanResult{
		Entities: []matcher.DetectedEntity{{
			Type: "Intrusion-Set", Name: "APT28", Value: "Fancy Bear",
			StartIndex: 0, EndIndex: 10, EntityID: "is-1", PlatformID: "cti",
		}},
		Observables: []observables.Observable{{Type: "IPv4-Addr", Value: "10.0.0.5", StartIndex: 20, EndIndex: 28}},
		CVEs:        []observables.CVE{{ID: "CVE-2021-44228", StartIndex: 30, EndIndex: 44, EntityID: "v-1", PlatformID: "cti"}},
	}
	var buf bytes.Buffer
	if err := printScan(&buf, res); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"cti/is-1 (APT28)", "10.0.0.5", "20-28", "cti/v-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := printScan(&buf, router.EntitiesResult{}); err != nil {
		t.Fatal(err)
	}
	if err := printScan(&buf, "nope"); err == nil {
		t.Error("expected an error for an unknown payload")
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	stats := router.CacheStats{
		Total: 3,
		ByPlatform: []router.PlatformCacheStats{{
			PlatformStats: storage.PlatformStats{PlatformID: "cti", Total: 3, AgeMs: 90_000, Freshness: storage.FreshnessFresh},
			PlatformType:  "opencti",
			Name:          "Lab",
		}},
	}
	if err := printStats(&buf, stats); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "Lab (cti)") || !strings.Contains(out, "1m30s") {
		t.Errorf("unexpected stats output:\n%s", out)
	}
}
