package rpc

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/canopy-network/accord/bft"
	"github.com/canopy-network/accord/lib"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

const (
	colon = ":"

	SoftwareVersion = "0.1.0-alpha"
	ContentType     = "Content-Type"
	ApplicationJSON = "application/json; charset=utf-8"
)

// Node is an engine served by the status server
type Node struct {
	Name   string            // the label of the node in routes
	Status func() bft.Status // a thread-safe snapshot of the engine
}

// Server is a read-only http view over a set of in-process engines
type Server struct {
	nodes    map[string]Node         // name -> node
	evidence func() []*bft.Evidence // equivocation observed by any node
	config   lib.RPCConfig
	server   *http.Server
	logger   lib.LoggerI
}

// NewServer() constructs a status server for the nodes; evidence may be nil
func NewServer(nodes []Node, evidence func() []*bft.Evidence, config lib.RPCConfig, logger lib.LoggerI) *Server {
	s := &Server{nodes: make(map[string]Node, len(nodes)), evidence: evidence, config: config, logger: logger}
	for _, n := range nodes {
		s.nodes[n.Name] = n
	}
	return s
}

// Start() serves the routes in a goroutine
func (s *Server) Start() {
	cor := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	})
	timeout := time.Duration(s.config.TimeoutS) * time.Second
	s.server = &http.Server{
		Addr:    colon + s.config.RPCPort,
		Handler: cor.Handler(http.TimeoutHandler(s.Router(), timeout, ErrServerTimeout().Error())),
	}
	s.logger.Infof("Starting RPC server at 0.0.0.0:%s", s.config.RPCPort)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(err.Error())
		}
	}()
}

// Stop() shuts the server down
func (s *Server) Stop() {
	if s.server != nil {
		_ = s.server.Close()
	}
}

// Version() responds with the software version
func (s *Server) Version(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, SoftwareVersion, http.StatusOK)
}

// statusResponse is the status of one engine
type statusResponse struct {
	Name string `json:"name"`
	bft.Status
}

// Statuses() responds with the status of every node, sorted by name
func (s *Server) Statuses(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	res := make([]statusResponse, 0, len(s.nodes))
	for _, n := range s.nodes {
		res = append(res, statusResponse{Name: n.Name, Status: n.Status()})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	write(w, res, http.StatusOK)
}

// NodeStatus() responds with the status of the node named in the route
func (s *Server) NodeStatus(w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	name := p.ByName("node")
	n, found := s.nodes[name]
	if !found {
		write(w, ErrUnknownNode(name), http.StatusNotFound)
		return
	}
	write(w, statusResponse{Name: n.Name, Status: n.Status()}, http.StatusOK)
}

// Evidence() responds with the equivocation evidence collected so far
func (s *Server) Evidence(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	evidence := make([]*bft.Evidence, 0)
	if s.evidence != nil {
		evidence = append(evidence, s.evidence()...)
	}
	write(w, evidence, http.StatusOK)
}

// write() marshals the payload as indented JSON with the status code
func write(w http.ResponseWriter, payload any, code int) {
	w.Header().Set(ContentType, ApplicationJSON)
	w.WriteHeader(code)
	bz, _ := json.MarshalIndent(payload, "", "  ")
	_, _ = w.Write(bz)
}
