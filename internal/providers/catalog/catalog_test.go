package catalog

import (
	"sort"
	"testing"

	"github.com/pysugar/ami-nexus/internal/db/models"
)

func TestModelsKnownProvider(t *testing.T) {
	entries := Models(models.ProviderCodex)
	if len(entries) == 0 {
		t.Fatal("codex catalog is empty")
	}
	for _, m := range entries {
		if m.Object != "model" || m.OwnedBy != "openai" || m.Created == 0 {
			t.Errorf("entry = %+v", m)
		}
	}
	if !sort.SliceIsSorted(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID }) {
		t.Error("entries not sorted")
	}
}

func TestModelsUnknownProviderEmpty(t *testing.T) {
	if entries := Models("nope"); len(entries) != 0 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestAllCoversEveryProvider(t *testing.T) {
	all := All()
	seen := map[string]bool{}
	for _, m := range all {
		seen[m.OwnedBy] = true
	}
	for _, owner := range []string{"ami", "digitalocean", "amazon-bedrock", "openai"} {
		if !seen[owner] {
			t.Errorf("owner %q missing from All()", owner)
		}
	}
	ids := map[string]bool{}
	for _, m := range all {
		if ids[m.ID] {
			t.Errorf("duplicate id %q", m.ID)
		}
		ids[m.ID] = true
	}
}

func TestProviders(t *testing.T) {
	got := Providers()
	want := []string{"ami", "bedrock", "codex", "digitalocean"}
	if len(got) != len(want) {
		t.Fatalf("providers = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("providers = %v, want %v", got, want)
		}
	}
}
