// Package catalog is the static registry of model ids served through the
// proxy: which backend each id belongs to and how it is presented on the
// OpenAI-compatible model listing.
package catalog

import (
	"sort"

	"github.com/pysugar/ami-nexus/internal/db/models"
)

// Model is one catalog entry, shaped for the OpenAI /v1/models listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// catalogEpoch is a fixed created timestamp; clients only require the
// field to be present and stable.
const catalogEpoch = 1735689600 // 2025-01-01

var byProvider = map[string][]string{
	models.ProviderAmi: {
		"ami-default",
		"ami-large",
	},
	models.ProviderDigitalOcean: {
		"llama3.3-70b-instruct",
		"llama3.1-8b-instruct",
		"deepseek-r1-distill-llama-70b",
		"mistral-nemo-instruct-2407",
	},
	models.ProviderBedrock: {
		"anthropic.claude-sonnet-4-20250514-v1:0",
		"anthropic.claude-3-5-haiku-20241022-v1:0",
		"us.amazon.nova-pro-v1:0",
		"meta.llama3-70b-instruct-v1:0",
	},
	models.ProviderCodex: {
		"gpt-5.2",
		"gpt-5.2-codex",
		"gpt-5.1-codex-mini",
	},
}

var ownedBy = map[string]string{
	models.ProviderAmi:          "ami",
	models.ProviderDigitalOcean: "digitalocean",
	models.ProviderBedrock:      "amazon-bedrock",
	models.ProviderCodex:        "openai",
}

// Models returns the catalog entries for one provider, sorted by id.
func Models(provider string) []Model {
	ids := byProvider[provider]
	out := make([]Model, 0, len(ids))
	for _, id := range ids {
		out = append(out, Model{ID: id, Object: "model", Created: catalogEpoch, OwnedBy: ownedBy[provider]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every catalog entry across providers, sorted by id.
func All() []Model {
	var out []Model
	for provider := range byProvider {
		out = append(out, Models(provider)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Providers returns the provider ids with catalog entries, sorted.
func Providers() []string {
	out := make([]string, 0, len(byProvider))
	for provider := range byProvider {
		out = append(out, provider)
	}
	sort.Strings(out)
	return out
}
