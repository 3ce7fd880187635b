package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/canopy-network/accord/bft"
	"github.com/canopy-network/accord/cmd/rpc"
	"github.com/canopy-network/accord/lib"
	"github.com/canopy-network/accord/lib/crypto"
	"github.com/canopy-network/accord/p2p"
	"github.com/canopy-network/accord/wal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a set of in-process authorities over a lossy in-memory network until they decide some heights",
	RunE: func(cmd *cobra.Command, args []string) error {
		return simulate(cmd.Context(), sim)
	},
}

// simulateOptions are the flags of the simulate command
type simulateOptions struct {
	nodes         int
	heights       uint64
	dropRate      float64
	duplicateRate float64
	maxDelay      time.Duration
	seed          uint64
	baseTimeout   time.Duration
	deadline      time.Duration
	persist       bool
	configPath    string
}

var sim = simulateOptions{}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&sim.nodes, "nodes", 4, "number of equally weighted authorities")
	f.Uint64Var(&sim.heights, "heights", 10, "stop after every node decides this many heights")
	f.Float64Var(&sim.dropRate, "drop", 0, "probability a message is lost")
	f.Float64Var(&sim.duplicateRate, "dup", 0, "probability a message is delivered twice")
	f.DurationVar(&sim.maxDelay, "delay", 20*time.Millisecond, "maximum network delay per message")
	f.Uint64Var(&sim.seed, "seed", 1, "seed of the network faults")
	f.DurationVar(&sim.baseTimeout, "base-timeout", 500*time.Millisecond, "round 0 step timeout, overrides the config file")
	f.DurationVar(&sim.deadline, "deadline", 2*time.Minute, "abort if the heights are not decided in time")
	f.BoolVar(&sim.persist, "persist", false, "keep each node's recovery log on disk under the data directory")
	f.StringVar(&sim.configPath, "config", "", "path of a config.json to start from")
}

// simNode is one in-process authority
type simNode struct {
	name     string
	engine   *bft.Engine
	wal      *wal.BadgerLog
	metrics  *lib.Metrics
	executor *exampleExecutor
}

// commitEvent is a decision delivered to a node's executor
type commitEvent struct {
	node   int
	height uint64
	value  []byte
}

// simulate() runs the nodes until each has decided o.heights heights, then checks they agree
func simulate(ctx context.Context, o simulateOptions) error {
	c := lib.DefaultConfig()
	if o.configPath != "" {
		var err lib.ErrorI
		if c, err = lib.NewConfigFromFile(o.configPath); err != nil {
			return err
		}
	}
	if DataDir != "" {
		c.DataDirPath = DataDir
	}
	c.BaseTimeoutMS = int(o.baseTimeout.Milliseconds())
	c.InMemory = !o.persist
	log := lib.NewLogger(lib.LoggerConfig{Level: c.GetLogLevel(), Name: "simulate"}, c.DataDirPath)
	if o.nodes < 1 || o.heights < 1 {
		return fmt.Errorf("need at least one node and one height")
	}
	if err := c.ConsensusConfig.Check(); err != nil {
		return err
	}
	// derive the keys and the authority set
	signers, authorities := make([]*crypto.Ed25519Signer, o.nodes), make([]*lib.Authority, o.nodes)
	for i := range o.nodes {
		pk, err := crypto.DeriveEd25519PrivateKey([]byte(fmt.Sprintf("simulate-%d", o.seed)), fmt.Sprintf("node-%d", i))
		if err != nil {
			return err
		}
		signers[i] = crypto.NewEd25519Signer(pk)
		authorities[i] = &lib.Authority{PublicKey: signers[i].PublicKey(), Weight: 1}
	}
	set, e := lib.NewAuthoritySet(authorities)
	if e != nil {
		return e
	}
	ctx, cancel := signal.NotifyContext(orBackground(ctx), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	network := p2p.NewMemNetwork(p2p.Config{
		DropRate:      o.dropRate,
		DuplicateRate: o.duplicateRate,
		MaxDelay:      o.maxDelay,
		Seed:          o.seed,
	}, log)
	defer network.Close()
	registry, evidence := prometheus.NewRegistry(), &evidenceCollector{log: log}
	commits := make(chan commitEvent, o.nodes*int(o.heights)*2)
	nodes := make([]*simNode, o.nodes)
	defer func() {
		for _, n := range nodes {
			if n == nil {
				continue
			}
			_ = n.engine.Stop()
			n.metrics.Stop()
			_ = n.wal.Close()
		}
	}()
	for i, signer := range signers {
		n, err := startNode(ctx, i, c, signer, set, network, registry, evidence, commits)
		if err != nil {
			return err
		}
		nodes[i] = n
	}
	if c.RPCEnabled {
		statuses := make([]rpc.Node, len(nodes))
		for i, n := range nodes {
			statuses[i] = rpc.Node{Name: n.name, Status: n.engine.Status}
		}
		server := rpc.NewServer(statuses, evidence.List, c.RPCConfig, log)
		server.Start()
		defer server.Stop()
	}
	log.Infof("Simulating %d authorities for %d heights", o.nodes, o.heights)
	start, decided := time.Now(), make(map[uint64][]byte)
	progress := make([]uint64, o.nodes)
	timer := time.NewTimer(o.deadline)
	defer timer.Stop()
	for !allReached(progress, o.heights) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("deadline exceeded with progress %v", progress)
		case ev := <-commits:
			if prev, found := decided[ev.height]; found && !bytes.Equal(prev, ev.value) {
				return fmt.Errorf("agreement violated at height %d: %q != %q", ev.height, prev, ev.value)
			}
			decided[ev.height] = ev.value
			progress[ev.node] = max(progress[ev.node], ev.height)
		}
	}
	printSummary(nodes, o, time.Since(start), len(evidence.List()))
	return nil
}

// startNode() wires one authority to the shared network and registry and starts its engine at height 1
func startNode(ctx context.Context, i int, c lib.Config, signer *crypto.Ed25519Signer, set *lib.AuthoritySet,
	network *p2p.MemNetwork, registry *prometheus.Registry, evidence *evidenceCollector, commits chan<- commitEvent) (*simNode, error) {
	name := fmt.Sprintf("node-%d", i)
	log := lib.NewLogger(lib.LoggerConfig{Level: c.GetLogLevel(), Name: name}, c.DataDirPath)
	nodeConfig := c
	nodeConfig.DataDirPath = filepath.Join(c.DataDirPath, name)
	// only the first node serves the shared registry
	metricsConfig := c.MetricsConfig
	metricsConfig.Enabled = metricsConfig.Enabled && i == 0
	metrics := lib.NewMetricsServer(metricsConfig, prometheus.WrapRegistererWith(prometheus.Labels{"node": name}, registry), registry, log)
	recovery, err := wal.New(nodeConfig, metrics, log)
	if err != nil {
		return nil, err
	}
	executor := &exampleExecutor{node: i, name: name, commits: commits, values: make(map[uint64][]byte)}
	engine := bft.New(nodeConfig, bft.Dependencies{
		Signer:      signer,
		Verifier:    crypto.Ed25519Verifier{},
		Network:     network.Join(signer.PublicKey(), c.InboundQueueSize),
		Executor:    executor,
		Authorities: bft.StaticAuthorities{Set: set},
		Evidence:    evidence,
		WAL:         recovery,
	}, metrics, log)
	if err = engine.Start(ctx, 1); err != nil {
		_ = recovery.Close()
		return nil, err
	}
	metrics.Start()
	return &simNode{name: name, engine: engine, wal: recovery, metrics: metrics, executor: executor}, nil
}

// printSummary() writes the per node outcome with grouped numbers
func printSummary(nodes []*simNode, o simulateOptions, took time.Duration, evidence int) {
	p := message.NewPrinter(language.English)
	p.Printf("decided %d heights across %d authorities in %v\n", o.heights, len(nodes), took.Round(time.Millisecond))
	for _, n := range nodes {
		s := n.engine.Status()
		p.Printf("  %-8s height=%d round=%d last_commit=%d buffered=%d committed_bytes=%d\n",
			n.name, s.Height, s.Round, s.LastCommit, s.Buffered, n.executor.bytesCommitted())
	}
	p.Printf("equivocation reports: %d\n", evidence)
}

func allReached(progress []uint64, heights uint64) bool {
	for _, h := range progress {
		if h < heights {
			return false
		}
	}
	return true
}

// orBackground() returns a background context when cobra did not supply one
func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// exampleExecutor proposes labelled counters and accepts any non-empty value
type exampleExecutor struct {
	node    int
	name    string
	commits chan<- commitEvent
	values  map[uint64][]byte
	mu      sync.Mutex
}

// Propose() implements bft.Executor
func (x *exampleExecutor) Propose(height uint64) ([]byte, error) {
	return []byte(fmt.Sprintf("height %d proposed by %s", height, x.name)), nil
}

// Validate() implements bft.Executor
func (x *exampleExecutor) Validate(_ uint64, value []byte) bool { return len(value) != 0 }

// Commit() implements bft.Executor
func (x *exampleExecutor) Commit(ctx context.Context, height uint64, value []byte, _ *lib.QuorumCertificate) error {
	x.mu.Lock()
	x.values[height] = bytes.Clone(value)
	x.mu.Unlock()
	select {
	case x.commits <- commitEvent{node: x.node, height: height, value: value}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (x *exampleExecutor) bytesCommitted() (total int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, v := range x.values {
		total += len(v)
	}
	return
}

// evidenceCollector gathers equivocation reports from every node
type evidenceCollector struct {
	evidence []*bft.Evidence
	mu       sync.Mutex
	log      lib.LoggerI
}

// ReportEvidence() implements bft.EvidenceReporter
func (c *evidenceCollector) ReportEvidence(e *bft.Evidence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Warnf("Equivocation reported: %s", e)
	c.evidence = append(c.evidence, e)
}

// List() returns a copy of the collected evidence
func (c *evidenceCollector) List() []*bft.Evidence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*bft.Evidence(nil), c.evidence...)
}
