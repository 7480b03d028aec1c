// Package linkgraph builds the directed host-link graph from relevant
// documents and runs PageRank over it, feeding the result back into each
// host's importance.Bonus input (spec §4.6), grounded on
// original_source/backend/rankers/page_rank.py.
package linkgraph

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/importance"
	"github.com/aksel-berge/tubcrawl/mlrelevance"
	"github.com/aksel-berge/tubcrawl/store"
)

// Graph is the directed host-link graph: one node per host, one weighted
// edge per distinct (from-host, to-host) pair observed across every
// relevant document's outgoing links, self-loops excluded (the original's
// `from_server != to_server` guard).
type Graph struct {
	g        *simple.WeightedDirectedGraph
	nodeID   map[string]int64
	hostName map[int64]string
	nextID   int64
}

func newGraph() *Graph {
	return &Graph{
		g:        simple.NewWeightedDirectedGraph(0, 0),
		nodeID:   map[string]int64{},
		hostName: map[int64]string{},
	}
}

func (lg *Graph) nodeFor(host string) int64 {
	if id, ok := lg.nodeID[host]; ok {
		return id
	}
	id := lg.nextID
	lg.nextID++
	lg.nodeID[host] = id
	lg.hostName[id] = host
	lg.g.AddNode(simple.Node(id))
	return id
}

func (lg *Graph) addLink(from, to string) {
	if from == to {
		return
	}
	fromID := lg.nodeFor(from)
	toID := lg.nodeFor(to)
	if edge := lg.g.WeightedEdge(fromID, toID); edge != nil {
		lg.g.SetWeightedEdge(simple.WeightedEdge{F: edge.From(), T: edge.To(), W: edge.Weight() + 1})
		return
	}
	lg.g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(fromID), T: simple.Node(toID), W: 1})
}

// Build constructs a Graph from every relevant document's harvested links:
// for each document, the link's destination host is looked up by resolving
// its owning job's server, and an edge from-host -> to-host is added or
// incremented (original's construct_directed_link_graph_from_crawled_documents).
func Build(ctx context.Context, ds *store.Datastore) (*Graph, error) {
	docs, err := ds.RelevantDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load relevant documents: %w", err)
	}

	lg := newGraph()
	for _, doc := range docs {
		fromServer, err := documentSourceHost(ctx, ds, doc)
		if err != nil {
			zap.L().Sugar().Warnf("skipping document %d in link graph: %v", doc.ID, err)
			continue
		}

		children, err := childJobsOf(ctx, ds, doc.ID)
		if err != nil {
			zap.L().Sugar().Warnf("loading child jobs of document %d: %v", doc.ID, err)
			continue
		}
		for _, childJob := range children {
			toServer, err := ds.GetServer(ctx, childJob.ServerID)
			if err != nil {
				continue
			}
			lg.addLink(fromServer, toServer.Name)
		}
	}
	return lg, nil
}

// documentSourceHost resolves the host name that produced doc, by walking
// doc -> job -> server.
func documentSourceHost(ctx context.Context, ds *store.Datastore, doc *store.Document) (string, error) {
	server, err := ds.ServerOfDocument(ctx, doc.JobID)
	if err != nil {
		return "", err
	}
	return server.Name, nil
}

func childJobsOf(ctx context.Context, ds *store.Datastore, documentID int64) ([]*store.Job, error) {
	return ds.JobsWithParent(ctx, documentID)
}

// PageRank runs gonum's PageRank over the graph (spec §4.6's offline
// recomputation), returning a host-name -> score map. Tunables come from
// Config.Ranking so an operator can trade convergence speed for precision
// without a code change.
func (lg *Graph) PageRank() map[string]float64 {
	damping := 0.85
	tol := tubcrawl.Config.Ranking.PageRankTolerance
	if tol <= 0 {
		tol = 1e-6
	}
	scores := network.PageRank(lg.g, damping, tol)

	out := make(map[string]float64, len(scores))
	for id, score := range scores {
		out[lg.hostName[id]] = score
	}
	return out
}

// DefaultRecomputer rebuilds a job's priority from its stored URL and
// link-context text plus the owning host's current importance bonus,
// matching the combination rule tubcrawl.JobPriority implements.
type DefaultRecomputer struct {
	Classifier mlrelevance.Classifier
}

// Recompute implements priorityRecomputer.
func (r DefaultRecomputer) Recompute(job *store.Job, server *store.Server) float64 {
	u, err := tubcrawl.NewURL(job.URL, nil, job.AnchorText, job.SurroundingText, job.TitleText)
	if err != nil {
		return job.Priority
	}
	return tubcrawl.JobPriority(u, r.Classifier, importance.Bonus(server))
}

// Recompute builds the link graph, runs PageRank, writes each host's score
// back to its servers row, and recomputes priority for every job that is not
// yet done (spec §4.6: "feeding back into job priority"). It is meant to run
// as a periodic offline job, not on the request path.
func Recompute(ctx context.Context, ds *store.Datastore, classifier priorityRecomputer) error {
	lg, err := Build(ctx, ds)
	if err != nil {
		return err
	}
	ranks := lg.PageRank()

	for host, score := range ranks {
		server, err := ds.ServerByName(ctx, host)
		if err != nil {
			continue
		}
		if err := ds.SetServerPageRank(ctx, server.ID, score); err != nil {
			zap.L().Sugar().Errorf("persisting page rank for %s: %v", host, err)
		}
	}

	servers, err := allServers(ctx, ds)
	if err != nil {
		return err
	}
	for _, server := range servers {
		jobs, err := ds.UndoneJobsForServer(ctx, server.ID)
		if err != nil {
			zap.L().Sugar().Errorf("listing undone jobs for server %d: %v", server.ID, err)
			continue
		}
		for _, job := range jobs {
			priority := classifier.Recompute(job, server)
			if err := ds.UpdateJobPriority(ctx, job.ID, priority); err != nil {
				zap.L().Sugar().Errorf("updating priority for job %d: %v", job.ID, err)
			}
		}
	}
	return nil
}

// priorityRecomputer decouples Recompute from the concrete URL-priority and
// importance-bonus formulas, which live in the root package and
// importance package respectively -- avoiding an import cycle (those
// packages don't need to know about the link graph).
type priorityRecomputer interface {
	Recompute(job *store.Job, server *store.Server) float64
}

func allServers(ctx context.Context, ds *store.Datastore) ([]*store.Server, error) {
	return ds.AllServers(ctx)
}

// RecomputePrioritiesOnly re-applies priorityRecomputer to every undone job
// without rebuilding the link graph or touching PageRank scores, for the
// "priority updater" tool (spec §6): useful after retraining the ML
// classifier or editing relevance/priority config, when the host-link
// structure hasn't changed and a full Recompute would be wasted work.
func RecomputePrioritiesOnly(ctx context.Context, ds *store.Datastore, classifier priorityRecomputer) error {
	servers, err := allServers(ctx, ds)
	if err != nil {
		return err
	}
	for _, server := range servers {
		jobs, err := ds.UndoneJobsForServer(ctx, server.ID)
		if err != nil {
			zap.L().Sugar().Errorf("listing undone jobs for server %d: %v", server.ID, err)
			continue
		}
		for _, job := range jobs {
			priority := classifier.Recompute(job, server)
			if err := ds.UpdateJobPriority(ctx, job.ID, priority); err != nil {
				zap.L().Sugar().Errorf("updating priority for job %d: %v", job.ID, err)
			}
		}
	}
	return nil
}
