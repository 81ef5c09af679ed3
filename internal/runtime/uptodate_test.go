package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/core/eval"
)

type fileAges map[string]time.Duration

// writeFiles creates each file aged by its duration and returns a lookup
// rooted at the directory.
func writeFiles(t *testing.T, files fileAges) *Lookup {
	t.Helper()
	dir := t.TempDir()
	now := time.Now()
	for name, age := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0750))
		require.NoError(t, os.WriteFile(p, []byte(name), 0600))
		ts := now.Add(-age)
		require.NoError(t, os.Chtimes(p, ts, ts))
	}
	l := NewLookup(nil)
	l.SetProperty(core.ProjectDirectoryProperty, dir)
	return l
}

func TestCheckUpToDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		files    fileAges
		inputs   string
		outputs  string
		wantSkip bool
	}{
		{
			name:     "OutputNewer",
			files:    fileAges{"a.in": 2 * time.Hour, "a.out": time.Hour},
			inputs:   "a.in",
			outputs:  "a.out",
			wantSkip: true,
		},
		{
			name:    "OutputOlder",
			files:   fileAges{"a.in": time.Hour, "a.out": 2 * time.Hour},
			inputs:  "a.in",
			outputs: "a.out",
		},
		{
			name:    "NoOutputs",
			files:   fileAges{"a.in": time.Hour},
			inputs:  "a.in",
			outputs: "",
		},
		{
			name:    "NoInputs",
			files:   fileAges{"a.out": time.Hour},
			inputs:  "",
			outputs: "a.out",
		},
		{
			name:    "MissingOutput",
			files:   fileAges{"a.in": 2 * time.Hour},
			inputs:  "a.in",
			outputs: "a.out",
		},
		{
			name:    "MissingInput",
			files:   fileAges{"a.out": time.Hour},
			inputs:  "a.in",
			outputs: "a.out",
		},
		{
			// b.out is newer than a.in but older than its own input.
			name:    "PairwiseComparison",
			files:   fileAges{"a.in": 4 * time.Hour, "b.in": time.Hour, "a.out": 3 * time.Hour, "b.out": 2 * time.Hour},
			inputs:  "a.in;b.in",
			outputs: "a.out;b.out",
		},
		{
			name:     "PairwiseAllNewer",
			files:    fileAges{"a.in": 4 * time.Hour, "b.in": 3 * time.Hour, "a.out": 2 * time.Hour, "b.out": time.Hour},
			inputs:   "a.in;b.in",
			outputs:  "a.out;b.out",
			wantSkip: true,
		},
		{
			name:     "NewestInputAgainstOldestOutput",
			files:    fileAges{"a.in": 4 * time.Hour, "b.in": 3 * time.Hour, "all.out": time.Hour},
			inputs:   "a.in;b.in",
			outputs:  "all.out",
			wantSkip: true,
		},
		{
			name:    "OneInputNewerThanOutput",
			files:   fileAges{"a.in": 4 * time.Hour, "b.in": time.Minute, "all.out": time.Hour},
			inputs:  "a.in;b.in",
			outputs: "all.out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := writeFiles(t, tt.files)
			target := &core.Target{Name: "Compile", Inputs: tt.inputs, Outputs: tt.outputs}
			got, err := checkUpToDate(context.Background(), eval.New(), target, l)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSkip, got.skip, got.reason)
			assert.NotEmpty(t, got.reason)
		})
	}
}

func TestCheckUpToDate_ItemInputs(t *testing.T) {
	t.Parallel()

	l := writeFiles(t, fileAges{"src/a.c": 2 * time.Hour, "a.o": time.Hour})
	dir, _ := l.Property(core.ProjectDirectoryProperty)
	l.AddItems("Compile", core.NewItem("src/a.c").WithOrigin(dir, filepath.Join(dir, "app.yaml")))

	target := &core.Target{Name: "Compile", Inputs: "@(Compile)", Outputs: "a.o"}
	got, err := checkUpToDate(context.Background(), eval.New(), target, l)
	require.NoError(t, err)
	assert.True(t, got.skip, got.reason)
}

func TestCheckUpToDate_EvaluationError(t *testing.T) {
	t.Parallel()

	l := NewLookup(nil)
	target := &core.Target{Name: "Compile", Inputs: "$(Unclosed", Outputs: "a.out"}
	_, err := checkUpToDate(context.Background(), eval.New(), target, l)

	var sde *core.SkipDecisionError
	require.ErrorAs(t, err, &sde)
	assert.Equal(t, "Compile", sde.Target)
}
