package pipeline

import (
	"context"
)

// ExecuteChain runs each stage in order, feeding stage i's output to stage
// i+1. The first failure aborts the rest of the chain and is returned as a
// *StageError. An empty chain returns the asset unchanged.
func ExecuteChain(ctx context.Context, asset Artifact, chain []Stage) (Artifact, error) {
	cur := asset
	for _, stage := range chain {
		if err := ctx.Err(); err != nil {
			return Artifact{}, &StageError{Stage: stage.Name(), Path: asset.Path, Cause: err}
		}

		out, err := stage.Transform(ctx, cur)
		if err != nil {
			return Artifact{}, &StageError{Stage: stage.Name(), Path: asset.Path, Cause: err}
		}

		// The declared output kind is authoritative.
		out.Kind = stage.Output()
		if out.Path == "" {
			out.Path = cur.Path
		}
		cur = out
	}
	return cur, nil
}

// Process resolves the category for asset and executes its chain. Assets
// matching no category are returned unchanged with KindRaw and matched=false.
func (t *RuleTable) Process(ctx context.Context, asset Artifact) (out Artifact, matched bool, err error) {
	c, ok := t.Resolve(asset.Path)
	if !ok {
		asset.Kind = KindRaw
		return asset, false, nil
	}
	asset.Kind = c.Source()
	out, err = ExecuteChain(ctx, asset, c.chain)
	return out, true, err
}
