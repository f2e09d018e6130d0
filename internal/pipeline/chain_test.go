package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStage appends its name to the contents and logs the input it saw.
func recordingStage(name string, seen *[]string) Stage {
	return StageFunc{
		StageName: name,
		In:        KindJS,
		Out:       KindJS,
		Fn: func(_ context.Context, a Artifact) (Artifact, error) {
			*seen = append(*seen, string(a.Contents))
			a.Contents = append(append([]byte{}, a.Contents...), []byte("|"+name)...)
			return a, nil
		},
	}
}

func TestExecuteChainOrderAndPiping(t *testing.T) {
	var seen []string
	chain := []Stage{
		recordingStage("a", &seen),
		recordingStage("b", &seen),
		recordingStage("c", &seen),
	}

	out, err := ExecuteChain(context.Background(), Artifact{Path: "x.js", Contents: []byte("src")}, chain)
	require.NoError(t, err)

	assert.Equal(t, "src|a|b|c", string(out.Contents))
	// Stage i+1 receives exactly stage i's output.
	assert.Equal(t, []string{"src", "src|a", "src|a|b"}, seen)
	assert.Equal(t, "x.js", out.Path)
}

func TestExecuteChainEmptyIsPassThrough(t *testing.T) {
	in := Artifact{Path: "fonts/a.ttf", Kind: KindRaw, Contents: []byte{0, 1, 2}}
	out, err := ExecuteChain(context.Background(), in, nil)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestExecuteChainStageErrorAbortsRemainder(t *testing.T) {
	var seen []string
	boom := errors.New("boom")
	failing := StageFunc{
		StageName: "fail",
		In:        KindJS,
		Out:       KindJS,
		Fn: func(context.Context, Artifact) (Artifact, error) {
			return Artifact{}, boom
		},
	}

	_, err := ExecuteChain(context.Background(), Artifact{Path: "bad.js", Contents: []byte("x")},
		[]Stage{recordingStage("a", &seen), failing, recordingStage("c", &seen)})
	require.Error(t, err)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "fail", se.Stage)
	assert.Equal(t, "bad.js", se.Path)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsStageError(err))
	assert.Equal(t, []string{"x"}, seen, "stage after the failure must not run")
}

func TestExecuteChainOutputKindIsAuthoritative(t *testing.T) {
	toCSS := StageFunc{
		StageName: "preprocess",
		In:        KindSCSS,
		Out:       KindCSS,
		Fn: func(_ context.Context, a Artifact) (Artifact, error) {
			return Artifact{Contents: a.Contents}, nil
		},
	}
	out, err := ExecuteChain(context.Background(), Artifact{Path: "a.scss", Kind: KindSCSS}, []Stage{toCSS})
	require.NoError(t, err)
	assert.Equal(t, KindCSS, out.Kind)
	assert.Equal(t, "a.scss", out.Path, "path is carried over when a stage drops it")
}

func TestExecuteChainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen []string
	_, err := ExecuteChain(ctx, Artifact{Path: "x.js"}, []Stage{recordingStage("a", &seen)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, seen)
}

func TestProcessIsolatesAssets(t *testing.T) {
	failing := StageFunc{
		StageName: "strict",
		In:        KindJS,
		Out:       KindJS,
		Fn: func(_ context.Context, a Artifact) (Artifact, error) {
			if strings.Contains(string(a.Contents), "syntax error") {
				return Artifact{}, errors.New("parse failed")
			}
			return a, nil
		},
	}
	c, err := NewCategory(`\.js$`, "", failing)
	require.NoError(t, err)
	table, err := NewRuleTable(c)
	require.NoError(t, err)

	_, matched, err := table.Process(context.Background(), Artifact{Path: "bad.js", Contents: []byte("syntax error")})
	assert.True(t, matched)
	require.Error(t, err)

	good, matched, err := table.Process(context.Background(), Artifact{Path: "good.js", Contents: []byte("ok")})
	assert.True(t, matched)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(good.Contents))
	assert.Equal(t, KindJS, good.Kind)

	raw, matched, err := table.Process(context.Background(), Artifact{Path: "readme.txt", Contents: []byte("hi")})
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, KindRaw, raw.Kind)
	assert.Equal(t, "hi", string(raw.Contents))
}
