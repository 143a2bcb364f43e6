// Package proxy hosts the inbound HTTP surface: protocol handlers, the
// provider dispatcher, and the router.
package proxy

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/pysugar/ami-nexus/internal/config"
	"github.com/pysugar/ami-nexus/internal/db"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/logging"
	"github.com/pysugar/ami-nexus/internal/stream"
	"github.com/pysugar/ami-nexus/internal/upstream"
	"gorm.io/gorm"
)

// Dispatcher routes one chat request to a provider adapter, picks a
// credential from the pool, and records usage on the way out.
type Dispatcher struct {
	db                *gorm.DB
	adapters          map[string]upstream.Adapter
	deactivateOnFatal bool
	selectCred        func(*gorm.DB, string) (*models.Credential, error)
}

// NewDispatcher builds a dispatcher with the given selection policy
// (config.PolicyRandom picks uniformly among active credentials;
// anything else uses least-used rotation).
func NewDispatcher(database *gorm.DB, policy string, deactivateOnFatal bool, adapters ...upstream.Adapter) *Dispatcher {
	m := make(map[string]upstream.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	sel := db.SelectLeastUsed
	if policy == config.PolicyRandom {
		sel = db.SelectRandomActive
	}
	return &Dispatcher{db: database, adapters: m, deactivateOnFatal: deactivateOnFatal, selectCred: sel}
}

// ResolveProvider picks the adapter for a request and an optional
// upstream model rewrite. Precedence: explicit override, then a stored
// model route, then the model name's own prefix. The returned target is
// empty when the client's model id goes upstream unchanged.
func (d *Dispatcher) ResolveProvider(model, override string) (upstream.Adapter, string, error) {
	name := override
	target := ""
	if name == "" {
		if route, err := db.LookupRoute(d.db, model); err != nil {
			log.Printf("⚠️ route lookup for %s failed: %v", model, err)
		} else if route != nil {
			name = route.Provider
			target = route.TargetModel
		}
	}
	if name == "" {
		name = providerForModel(model)
	}
	adapter, ok := d.adapters[name]
	if !ok {
		return nil, "", &upstream.Error{
			Kind:    upstream.KindNotFound,
			Status:  404,
			Message: "no provider for model " + model,
		}
	}
	return adapter, target, nil
}

// providerForModel maps model naming conventions onto backends:
// ChatGPT models go to codex, Bedrock model ids carry a vendor prefix
// with dots, ami models are Ami's own, everything else rides the
// OpenAI-compatible DigitalOcean endpoint.
func providerForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-") || strings.Contains(model, "codex"):
		return models.ProviderCodex
	case strings.HasPrefix(model, "anthropic.") || strings.HasPrefix(model, "amazon.") ||
		strings.HasPrefix(model, "meta.") || strings.HasPrefix(model, "us.") ||
		strings.HasPrefix(model, "eu.") || strings.HasPrefix(model, "mistral."):
		return models.ProviderBedrock
	case strings.HasPrefix(model, "ami"):
		return models.ProviderAmi
	default:
		return models.ProviderDigitalOcean
	}
}

// Result reports what a dispatch produced, for request logging.
type Result struct {
	Provider     string
	CredentialID string
	Usage        stream.Usage
}

// Dispatch selects a credential, streams the response through emit, and
// settles the credential's counters. The Finish event's usage feeds
// accounting; Error events with Fatal set (and adapter errors flagged
// fatal) count as credential failures.
func (d *Dispatcher) Dispatch(ctx context.Context, adapter upstream.Adapter, req *upstream.ChatRequest, emit upstream.Emit) (Result, error) {
	cred, err := d.selectCredential(adapter.Name())
	if err != nil {
		return Result{Provider: adapter.Name()}, err
	}
	res := Result{Provider: adapter.Name(), CredentialID: cred.ID}
	reqID := logging.GetRequestID(ctx)

	var usage stream.Usage
	var fatalMsg string
	wrapped := func(ev stream.Event) {
		switch ev.Type {
		case stream.Finish:
			usage = ev.Usage
		case stream.Error:
			if ev.Fatal {
				fatalMsg = ev.Text
			}
		}
		emit(ev)
	}

	err = adapter.Stream(ctx, cred, req, wrapped)
	res.Usage = usage

	switch {
	case err != nil:
		d.settleFailure(cred, err.Error(), isFatal(err))
		return res, err
	case fatalMsg != "":
		d.settleFailure(cred, fatalMsg, true)
		return res, nil
	default:
		if recErr := db.RecordSuccess(d.db, cred, usage); recErr != nil {
			log.Printf("⚠️ [%s] recording usage for %s failed: %v", reqID, cred.ID, recErr)
		}
		return res, nil
	}
}

func (d *Dispatcher) selectCredential(provider string) (*models.Credential, error) {
	return d.selectCred(d.db, provider)
}

// TestCredential runs a one-line prompt through a specific credential,
// bypassing pool selection, and returns the collected text.
func (d *Dispatcher) TestCredential(ctx context.Context, id, model string) (string, error) {
	cred, err := db.GetCredential(d.db, id)
	if err != nil {
		return "", err
	}
	adapter, ok := d.adapters[cred.Provider]
	if !ok {
		return "", &upstream.Error{Kind: upstream.KindNotFound, Status: 404, Message: "no adapter for provider " + cred.Provider}
	}

	req := &upstream.ChatRequest{
		Model:     model,
		Messages:  []upstream.Message{{Role: "user", Content: "Reply with the single word: ok"}},
		MaxTokens: 16,
	}
	var text string
	err = adapter.Stream(ctx, cred, req, func(ev stream.Event) {
		if ev.Type == stream.TextDelta {
			text += ev.Text
		}
	})
	if err != nil {
		d.settleFailure(cred, err.Error(), isFatal(err))
		return "", err
	}
	return text, nil
}

func (d *Dispatcher) settleFailure(cred *models.Credential, message string, fatal bool) {
	if err := db.RecordFailure(d.db, cred, message); err != nil {
		log.Printf("⚠️ recording failure for %s failed: %v", cred.ID, err)
	}
	if fatal && d.deactivateOnFatal {
		if err := db.SetActive(d.db, cred.ID, false); err != nil {
			log.Printf("⚠️ deactivating %s failed: %v", cred.ID, err)
		} else {
			log.Printf("🚫 credential %s deactivated after fatal error: %s", cred.ID, message)
		}
	}
}

func isFatal(err error) bool {
	var ue *upstream.Error
	return errors.As(err, &ue) && ue.Fatal
}
