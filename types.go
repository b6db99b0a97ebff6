package keyapi

// Java class names the engine uses to pick the concrete type of a polymorphic
// parameter.
const (
	ClassLoadParams = "org.keyproject.key.api.data.LoadParams"
	ClassTreeNodeID = "org.keyproject.key.api.data.KeyIdentifications$TreeNodeId"
)

// EnvId identifies a loaded environment.
type EnvId struct {
	EnvID string `json:"envId"`
}

// ProofId identifies a proof within an environment.
type ProofId struct {
	Env     EnvId  `json:"env"`
	ProofID string `json:"proofId"`
}

// NodeId identifies a node of a proof.
type NodeId struct {
	NodeID  string  `json:"nodeId"`
	ProofID ProofId `json:"proofId"`
}

// TreeNodeDesc describes one entry of the proof tree.
type TreeNodeDesc struct {
	ID   NodeId `json:"id"`
	Name string `json:"name"`
}

// TreeNodeId addresses a proof tree entry.
type TreeNodeId struct {
	ID string `json:"id"`
}

// PrintOptions controls how a goal's sequent is rendered.
type PrintOptions struct {
	Unicode     bool `json:"unicode"`
	Width       int  `json:"width"`
	Indentation int  `json:"indentation"`
	Pure        bool `json:"pure"`
	TermLabels  bool `json:"termLabels"`
}

// DefaultPrintOptions returns plain-text rendering at 80 columns.
func DefaultPrintOptions() PrintOptions {
	return PrintOptions{Width: 80, Indentation: 4}
}

// NodeTextId identifies one rendering of a node.
type NodeTextId struct {
	NodeID     NodeId `json:"nodeId"`
	NodeTextID int    `json:"nodeTextId"`
}

// NodeTextDesc is a rendered node.
type NodeTextDesc struct {
	ID     NodeTextId `json:"id"`
	Result string     `json:"result"`
}

// NodeDesc describes a proof node and its subtree.
type NodeDesc struct {
	NodeID                NodeId     `json:"nodeId"`
	BranchLabel           string     `json:"branchLabel"`
	ScriptRuleApplication bool       `json:"scriptRuleApplication"`
	Children              []NodeDesc `json:"children"`
	Description           string     `json:"description"`
}

// LoadParams names a problem file and its optional class paths. Nil slices and an
// empty BootClassPath are left out of the request.
type LoadParams struct {
	ProblemFile   string
	ClassPath     []string
	BootClassPath string
	Includes      []string
}

type uri struct {
	URI string `json:"uri"`
}

func uris(paths []string) []uri {
	out := make([]uri, 0, len(paths))
	for _, p := range paths {
		out = append(out, uri{URI: p})
	}
	return out
}

// wireParams builds the request shape the engine expects for loading/load.
func (p LoadParams) wireParams() map[string]any {
	framed := map[string]any{
		"problemFile": uri{URI: p.ProblemFile},
		"$class":      ClassLoadParams,
	}
	if p.BootClassPath != "" {
		framed["bootClassPath"] = uri{URI: p.BootClassPath}
	}
	if p.ClassPath != nil {
		framed["classPath"] = uris(p.ClassPath)
	}
	if p.Includes != nil {
		framed["includes"] = uris(p.Includes)
	}
	return framed
}
