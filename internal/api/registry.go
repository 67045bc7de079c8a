package api

import (
	"net/http"
	"time"

	"github.com/triage-ai/blinkguard/internal/registry"
)

func (d *Dependencies) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	reg, fetchedAt := d.Registry.Get(r.Context())
	writeJSON(w, http.StatusOK, registryToResp(reg, fetchedAt))
}

// handleRefreshRegistry forces a synchronous registry load.
func (d *Dependencies) handleRefreshRegistry(w http.ResponseWriter, r *http.Request) {
	reg := d.Registry.Refresh(r.Context())
	writeJSON(w, http.StatusOK, registryToResp(reg, time.Now()))
}

func registryToResp(reg *registry.ActionsRegistry, fetchedAt time.Time) RegistryResp {
	return RegistryResp{
		Actions:       reg.Len(registry.SourceActions),
		Websites:      reg.Len(registry.SourceWebsites),
		Interstitials: reg.Len(registry.SourceInterstitials),
		FetchedAt:     fetchedAt.UTC(),
	}
}
