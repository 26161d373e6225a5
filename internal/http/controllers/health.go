package controllers

import (
	"net/http"

	"github.com/ma13w/cverify/internal/http/helpers"
)

// ClusterInfo es lo que el health check expone del modo HA.
type ClusterInfo interface {
	IsLeader() bool
	LeaderID() string
	NodeID() string
}

// HealthController expone healthz/readyz.
type HealthController struct {
	Version string
	Cluster ClusterInfo // nil en modo single-node
}

func (c *HealthController) Healthz(w http.ResponseWriter, _ *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": c.Version})
}

func (c *HealthController) Readyz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ready"}
	if c.Cluster != nil {
		body["cluster"] = map[string]any{
			"node_id":   c.Cluster.NodeID(),
			"leader":    c.Cluster.IsLeader(),
			"leader_id": c.Cluster.LeaderID(),
		}
	}
	helpers.WriteJSON(w, http.StatusOK, body)
}
