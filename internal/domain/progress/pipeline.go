package progress

// NodeID identifies a node in a pipeline diagram.
type NodeID string

// Cloud pipeline nodes.
const (
	NodeCloudAccount   NodeID = "c-account"
	NodeCloudDiscovery NodeID = "c-discovery"
	NodeCloudRouter    NodeID = "c-router"
	NodeCloudActive    NodeID = "c-active"
	NodeCloudLog       NodeID = "c-log"
)

// Repository pipeline nodes.
const (
	NodeRepoGitHub  NodeID = "r-github"
	NodeRepoClone   NodeID = "r-clone"
	NodeRepoSecrets NodeID = "r-secrets"
	NodeRepoSCA     NodeID = "r-sca"
	NodeRepoSAST    NodeID = "r-sast"
	NodeRepoLicense NodeID = "r-license"
)

// NodeStatus represents the derived visual state of a pipeline node. It is
// never stored; it is recomputed from session state on every update.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "PENDING"
	NodeStatusActive    NodeStatus = "ACTIVE"
	NodeStatusCompleted NodeStatus = "COMPLETED"
	NodeStatusError     NodeStatus = "ERROR"
)

// String returns the string representation of the NodeStatus.
func (s NodeStatus) String() string { return string(s) }

// PipelineNode is one element of the fixed pipeline diagram for a scan kind.
// Nodes sharing an order run in parallel.
type PipelineNode struct {
	ID    NodeID
	Label string
	Order int
}

// PipelineEdge is a completes-before relationship between two nodes. Edges
// are purely for rendering; scheduling happens server-side.
type PipelineEdge struct {
	From NodeID
	To   NodeID
}

// PipelineGraph is the statically defined pipeline diagram for a scan kind.
type PipelineGraph struct {
	Kind  ScanKind
	Nodes []PipelineNode
	Edges []PipelineEdge
}

// EntryNode returns the first node of the graph, used when the reported
// stage is absent or outside the known vocabulary.
func (g PipelineGraph) EntryNode() NodeID { return g.Nodes[0].ID }

var cloudGraph = PipelineGraph{
	Kind: ScanKindCloud,
	Nodes: []PipelineNode{
		{ID: NodeCloudAccount, Label: "Cloud Account", Order: 0},
		{ID: NodeCloudDiscovery, Label: "Asset Discovery", Order: 1},
		{ID: NodeCloudRouter, Label: "Router", Order: 2},
		{ID: NodeCloudActive, Label: "Active Scanner", Order: 3},
		{ID: NodeCloudLog, Label: "Log Analyzer", Order: 3},
	},
	Edges: []PipelineEdge{
		{From: NodeCloudAccount, To: NodeCloudDiscovery},
		{From: NodeCloudDiscovery, To: NodeCloudRouter},
		{From: NodeCloudRouter, To: NodeCloudActive},
		{From: NodeCloudRouter, To: NodeCloudLog},
	},
}

var repoGraph = PipelineGraph{
	Kind: ScanKindRepo,
	Nodes: []PipelineNode{
		{ID: NodeRepoGitHub, Label: "Repository", Order: 0},
		{ID: NodeRepoClone, Label: "Clone", Order: 1},
		{ID: NodeRepoSecrets, Label: "Secret Scanner", Order: 2},
		{ID: NodeRepoSCA, Label: "SCA", Order: 3},
		{ID: NodeRepoSAST, Label: "SAST", Order: 4},
		{ID: NodeRepoLicense, Label: "License Audit", Order: 5},
	},
	Edges: []PipelineEdge{
		{From: NodeRepoGitHub, To: NodeRepoClone},
		{From: NodeRepoClone, To: NodeRepoSecrets},
		{From: NodeRepoSecrets, To: NodeRepoSCA},
		{From: NodeRepoSCA, To: NodeRepoSAST},
		{From: NodeRepoSAST, To: NodeRepoLicense},
	},
}

// GraphFor returns the pipeline graph for the given scan kind.
func GraphFor(kind ScanKind) PipelineGraph {
	if kind == ScanKindRepo {
		return repoGraph
	}
	return cloudGraph
}
