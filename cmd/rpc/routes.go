package rpc

import (
	"github.com/julienschmidt/httprouter"
)

// Status RPC Paths
const (
	VersionRoutePath       = "/v1/"
	StatusRoutePath        = "/v1/status"
	NodeStatusRoutePath    = "/v1/status/:node"
	EvidenceRoutePath      = "/v1/evidence"
	ResourceUsageRoutePath = "/v1/admin/resource-usage"
)

// Router() maps the paths to their handlers
func (s *Server) Router() *httprouter.Router {
	r := httprouter.New()
	r.GET(VersionRoutePath, s.Version)
	r.GET(StatusRoutePath, s.Statuses)
	r.GET(NodeStatusRoutePath, s.NodeStatus)
	r.GET(EvidenceRoutePath, s.Evidence)
	r.GET(ResourceUsageRoutePath, s.ResourceUsage)
	return r
}
