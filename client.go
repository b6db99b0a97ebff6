package keyapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/filegrind/keyapi-go/wire"
)

// Engine method names.
const (
	MethodVersion           = "meta/version"
	MethodLoad              = "loading/load"
	MethodLoadKey           = "loading/loadKey"
	MethodProofTreeRoot     = "proofTree/root"
	MethodProofTreeChildren = "proofTree/children"
	MethodGoalPrint         = "goal/print"
	MethodProofGoals        = "proof/goals"
)

// Caller sends one request and returns the value the engine answered with.
// *bridge.Bridge implements it.
type Caller interface {
	CallOutcome(ctx context.Context, method string, params any) (wire.Outcome, error)
}

// Client is a typed KeY API client over a Caller
type Client struct {
	caller    Caller
	validator *SchemaValidator
}

// NewClient creates a client whose results are checked by the default schemas
func NewClient(caller Caller) *Client {
	return NewClientWithValidator(caller, NewSchemaValidator())
}

// NewClientWithValidator creates a client with a custom result validator. A nil
// validator disables result validation.
func NewClientWithValidator(caller Caller, validator *SchemaValidator) *Client {
	return &Client{caller: caller, validator: validator}
}

// Send performs one call. An outcome taken from the response's error member is
// returned as *ApiError; otherwise the result is validated and returned raw.
func (c *Client) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	out, err := c.caller.CallOutcome(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if out.Failed {
		return nil, newApiError(method, out.Value)
	}
	if c.validator != nil {
		if err := c.validator.ValidateResult(method, out.Value); err != nil {
			return nil, err
		}
	}
	return out.Value, nil
}

// call performs Send and decodes the result into a T
func call[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var zero T
	raw, err := c.Send(ctx, method, params)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return v, nil
}

// Version returns the engine's version string
func (c *Client) Version(ctx context.Context) (string, error) {
	return call[string](ctx, c, MethodVersion, nil)
}

// Load loads a problem file and returns the new proof
func (c *Client) Load(ctx context.Context, params LoadParams) (ProofId, error) {
	return call[ProofId](ctx, c, MethodLoad, params.wireParams())
}

// LoadKey loads a problem given as KeY file content
func (c *Client) LoadKey(ctx context.Context, content string) (ProofId, error) {
	return call[ProofId](ctx, c, MethodLoadKey, content)
}

// ProofTreeRoot returns the root of a proof's tree
func (c *Client) ProofTreeRoot(ctx context.Context, proof ProofId) (TreeNodeDesc, error) {
	return call[TreeNodeDesc](ctx, c, MethodProofTreeRoot, proof)
}

// ProofTreeChildren returns the children of a proof tree node
func (c *Client) ProofTreeChildren(ctx context.Context, proof ProofId, node NodeId) ([]TreeNodeDesc, error) {
	treeNode := map[string]any{
		"id":     node.NodeID,
		"$class": ClassTreeNodeID,
	}
	return call[[]TreeNodeDesc](ctx, c, MethodProofTreeChildren, []any{proof, treeNode})
}

// GoalPrint renders the sequent of a node
func (c *Client) GoalPrint(ctx context.Context, node NodeId, options PrintOptions) (NodeTextDesc, error) {
	return call[NodeTextDesc](ctx, c, MethodGoalPrint, []any{node, options})
}

// ProofGoals returns the goals of a proof, optionally only open or enabled ones
func (c *Client) ProofGoals(ctx context.Context, proof ProofId, onlyOpened, onlyEnabled bool) (NodeDesc, error) {
	return call[NodeDesc](ctx, c, MethodProofGoals, []any{proof, onlyOpened, onlyEnabled})
}
