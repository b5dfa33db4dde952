package platforms

import (
	"context"
	"testing"
)

type stubClient struct{ inst Instance }

func (s *stubClient) Instance() Instance { return s.inst }
func (s *stubClient) FetchEntitiesOfType(ctx context.Context, entityType string) ([]Entity, error) {
	return nil, nil
}
func (s *stubClient) TestConnection(ctx context.Context) (ConnectionInfo, error) {
	return ConnectionInfo{Success: true}, nil
}

func stubFactory(inst Instance) (Client, error) { return &stubClient{inst: inst}, nil }

func TestRegistryReloadSkipsMisconfigured(t *testing.T) {
	r := NewRegistry(map[Family]Factory{
		FamilyOpenCTI: stubFactory,
		FamilyOpenAEV: stubFactory,
	}, nil)

	r.Reload([]Instance{
		{ID: "b", URL: "https://cti.example.com", Token: "t", Enabled: true, Type: FamilyOpenCTI},
		{ID: "a", URL: "https://cti2.example.com", Token: "t", Enabled: true, Type: FamilyOpenCTI},
		{ID: "no-token", URL: "https://cti3.example.com", Enabled: true, Type: FamilyOpenCTI},
		{ID: "disabled", URL: "https://aev.example.com", Token: "t", Enabled: false, Type: FamilyOpenAEV},
		{ID: "bad-url", URL: "aev.example.com", Token: "t", Enabled: true, Type: FamilyOpenAEV},
	})

	clients := r.Clients(FamilyOpenCTI)
	if len(clients) != 2 {
		t.Fatalf("expected 2 opencti clients, got %d", len(clients))
	}
	if clients[0].Instance().ID != "a" || clients[1].Instance().ID != "b" {
		t.Fatalf("clients not sorted by id: %s, %s", clients[0].Instance().ID, clients[1].Instance().ID)
	}
	if got := r.Clients(FamilyOpenAEV); len(got) != 0 {
		t.Fatalf("expected no openaev clients, got %d", len(got))
	}
	if got := len(r.Skipped()); got != 3 {
		t.Fatalf("expected 3 skipped instances, got %d", got)
	}
	if _, ok := r.Client("a"); !ok {
		t.Fatal("expected to find client a")
	}
	if _, ok := r.Client("disabled"); ok {
		t.Fatal("disabled instance must not have a client")
	}
	if inst, ok := r.Instance("b"); !ok || inst.URL != "https://cti.example.com" {
		t.Fatalf("unexpected instance %+v", inst)
	}
	if _, ok := r.Instance("no-token"); ok {
		t.Fatal("skipped instance must not be returned")
	}
}

func TestRegistryReloadReplacesWholesale(t *testing.T) {
	r := NewRegistry(map[Family]Factory{FamilyOpenCTI: stubFactory}, nil)
	r.Reload([]Instance{{ID: "old", URL: "https://x.example.com", Token: "t", Enabled: true, Type: FamilyOpenCTI}})
	r.Reload([]Instance{{ID: "new", URL: "https://x.example.com", Token: "t", Enabled: true, Type: FamilyOpenCTI}})

	ids := r.ValidIDs(FamilyOpenCTI)
	if len(ids) != 1 || ids[0] != "new" {
		t.Fatalf("expected only 'new', got %v", ids)
	}
}

func TestNormalizeType(t *testing.T) {
	tests := []struct{ in, want string }{
		{"attack_pattern", "Attack-Pattern"},
		{"AttackPattern", "Attack-Pattern"},
		{"organization", "Organization"},
		{"intrusion set", "Intrusion-Set"},
		{"assetgroup", "AssetGroup"},
		{" Unknown-Thing ", "Unknown-Thing"},
	}
	for _, tc := range tests {
		if got := NormalizeType(tc.in); got != tc.want {
			t.Errorf("NormalizeType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeTypeCoversCatalog(t *testing.T) {
	for _, f := range Families {
		for _, typ := range EntityTypes(f) {
			if foldType(NormalizeType(typ)) != foldType(typ) {
				t.Errorf("NormalizeType(%q) = %q, not the same type", typ, NormalizeType(typ))
			}
		}
	}
}

func TestEntityTypesCatalog(t *testing.T) {
	if got := len(EntityTypes(FamilyOpenCTI)); got != 16 {
		t.Fatalf("expected 16 opencti types, got %d", got)
	}
	if !IsAttackPatternType("AttackPattern") || !IsAttackPatternType("Attack-Pattern") {
		t.Fatal("attack pattern types not recognised")
	}
	if IsAttackPatternType("Malware") {
		t.Fatal("Malware is not an attack pattern")
	}
}
