package ami

import (
	"context"
	"log"
	"sync"

	"github.com/pysugar/ami-nexus/internal/db/models"
)

// BridgePool keeps at most one daemon bridge per credential and re-dials
// dead ones on demand.
type BridgePool struct {
	url      string
	executor *ToolExecutor

	mu      sync.Mutex
	bridges map[string]*Bridge
}

func NewBridgePool(url string, executor *ToolExecutor) *BridgePool {
	return &BridgePool{
		url:      url,
		executor: executor,
		bridges:  make(map[string]*Bridge),
	}
}

// Get returns the live bridge for the credential, dialing a fresh one if
// the cached connection died or never authenticated.
func (p *BridgePool) Get(ctx context.Context, cred *models.Credential) (*Bridge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.bridges[cred.ID]; ok {
		if b.Alive() {
			return b, nil
		}
		b.Close()
		delete(p.bridges, cred.ID)
		log.Printf("🔄 [ami] bridge %s dead, redialing", cred.ID)
	}

	b, err := DialBridge(ctx, p.url, cred.ID, cred.BridgeToken, p.executor)
	if err != nil {
		return nil, err
	}
	p.bridges[cred.ID] = b
	return b, nil
}

// Stop closes and forgets the bridge for one credential. Reports whether
// a bridge existed.
func (p *BridgePool) Stop(credID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bridges[credID]
	if !ok {
		return false
	}
	b.Close()
	delete(p.bridges, credID)
	return true
}

// StopAll tears down every bridge. Used at shutdown.
func (p *BridgePool) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, b := range p.bridges {
		b.Close()
		delete(p.bridges, id)
	}
}
