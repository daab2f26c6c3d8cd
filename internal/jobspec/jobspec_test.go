package jobspec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tandem/internal/diag"
	"github.com/mattjoyce/tandem/internal/graph"
	"github.com/mattjoyce/tandem/internal/order"
	"github.com/mattjoyce/tandem/internal/script"
)

const threeJobs = `- name: build
  image: golang:1.22
  commands: go build ./...
- name: test
  image: golang:1.22
  commands: |
    go vet ./...
    go test ./...
  environment:
    CGO_ENABLED: "0"
  dependencies:
    - build
- name: deploy
  image: bitnami/kubectl
  commands: kubectl apply -f k8s/
  dependencies:
    - test
`

func mustGraph(t *testing.T, res *Result) *graph.Graph {
	t.Helper()
	g, err := graph.Build(res.Nodes, res.Edges)
	require.NoError(t, err)
	return g
}

func decode(t *testing.T, text string) []Record {
	t.Helper()
	var recs []Record
	require.NoError(t, yaml.Unmarshal([]byte(text), &recs))
	return recs
}

func TestParseBuildTestDeploy(t *testing.T) {
	res := Parse(threeJobs)
	require.Empty(t, res.Warnings)
	require.Len(t, res.Nodes, 3)
	require.Len(t, res.Edges, 2)

	assert.Equal(t, "job-0", res.Nodes[0].ID)
	assert.Equal(t, "build", res.Nodes[0].Name)
	assert.Equal(t, "Build", res.Nodes[0].DisplayName)
	assert.Equal(t, graph.KindBuild, res.Nodes[0].Kind)
	assert.Equal(t, graph.KindTest, res.Nodes[1].Kind)
	assert.Equal(t, graph.KindDeploy, res.Nodes[2].Kind)
	assert.Equal(t, "go vet ./...\ngo test ./...\n", res.Nodes[1].Attrs.Command)
	assert.Equal(t, map[string]string{"CGO_ENABLED": "0"}, res.Nodes[1].Attrs.Env)
	require.NotNil(t, res.Nodes[2].OrderIndex)
	assert.Equal(t, 2, *res.Nodes[2].OrderIndex)

	assert.Equal(t, graph.Edge{ID: "edge-job-0-job-1", Source: "job-0", Target: "job-1"}, res.Edges[0])
	assert.Equal(t, graph.Edge{ID: "edge-job-1-job-2", Source: "job-1", Target: "job-2"}, res.Edges[1])

	out := decode(t, Generate(mustGraph(t, res)))
	require.Len(t, out, 3)
	assert.Empty(t, out[0].Dependencies)
	assert.Equal(t, []string{"build"}, out[1].Dependencies)
	assert.Equal(t, []string{"test"}, out[2].Dependencies)
}

func TestRoundTripIsSemanticallyEqual(t *testing.T) {
	in := decode(t, threeJobs)
	out := decode(t, Generate(mustGraph(t, Parse(threeJobs))))
	assert.Equal(t, in, out)
}

func TestGenerateIsByteStable(t *testing.T) {
	g := mustGraph(t, Parse(threeJobs))
	first := Generate(g)
	assert.Equal(t, first, Generate(g))
	assert.Equal(t, first, Generate(mustGraph(t, Parse(first))))
}

func TestIDStabilityAcrossCommandEdit(t *testing.T) {
	before := Parse(threeJobs)
	after := Parse(strings.Replace(threeJobs, "go build ./...", "go build -v ./...", 1))

	require.Len(t, after.Nodes, len(before.Nodes))
	for i := range before.Nodes {
		assert.Equal(t, before.Nodes[i].ID, after.Nodes[i].ID)
	}
	assert.Equal(t, before.Edges, after.Edges)
}

func TestDependenciesAreSortedAndDeduplicated(t *testing.T) {
	g := graph.New()
	for i, name := range []string{"zeta", "Alpha", "mid", "final"} {
		require.NoError(t, g.AddNode(&graph.Node{ID: NodeID(i), Name: name, OrderIndex: graph.Index(i)}))
	}
	require.NoError(t, g.AddEdge(graph.Edge{Source: "job-0", Target: "job-3"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "job-2", Target: "job-3"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "job-1", Target: "job-3"}))
	require.NoError(t, g.AddEdge(graph.Edge{ID: "again", Source: "job-0", Target: "job-3"}))

	out := decode(t, Generate(g))
	require.Len(t, out, 4)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, out[3].Dependencies)
}

func TestParseSkipsDanglingDependency(t *testing.T) {
	text := `- name: build
  image: golang
- name: test
  image: golang
  dependencies: [build, ghost]
- name: lint
  image: golang
  dependencies: [build]
`
	res := Parse(text)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Nodes, 3)
	require.Len(t, res.Edges, 2)
	assert.Equal(t, []diag.Reference{{From: "test", Name: "ghost"}}, res.Unresolved)

	out := decode(t, Generate(mustGraph(t, res)))
	assert.Equal(t, []string{"build"}, out[1].Dependencies)
	assert.Equal(t, []string{"build"}, out[2].Dependencies)
}

func TestParseDependencyNamesAreCaseInsensitive(t *testing.T) {
	res := Parse("- name: Build\n  image: x\n- name: test\n  image: x\n  dependencies: [BUILD]\n")
	require.Len(t, res.Edges, 1)

	out := decode(t, Generate(mustGraph(t, res)))
	assert.Equal(t, "Build", out[0].Name)
	assert.Equal(t, []string{"build"}, out[1].Dependencies)
}

func TestParseMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "mapping root", text: "name: build\nimage: x\n"},
		{name: "broken yaml", text: "- name: [unterminated\n"},
		{name: "scalar root", text: "just words"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse(tt.text)
			assert.Empty(t, res.Nodes)
			assert.Empty(t, res.Edges)
			require.NotEmpty(t, res.Warnings)
			assert.Equal(t, diag.ParseFailure, res.Warnings[0].Kind)
		})
	}
}

func TestParseBlankTextYieldsNothing(t *testing.T) {
	res := Parse("  \n")
	assert.Empty(t, res.Nodes)
	assert.Empty(t, res.Warnings)
}

func TestParseKeepsIDsWhenARecordIsInvalid(t *testing.T) {
	res := Parse("- name: a\n  image: x\n- oops\n- name: c\n  image: x\n  dependencies: [a]\n")
	require.Len(t, res.Nodes, 2)
	assert.Equal(t, "job-0", res.Nodes[0].ID)
	assert.Equal(t, "job-2", res.Nodes[1].ID)
	assert.Len(t, res.Warnings, 1)
	assert.Len(t, res.Edges, 1)
}

func TestParseAcceptsCommandList(t *testing.T) {
	res := Parse("- name: build\n  image: x\n  commands:\n    - make deps\n    - make\n")
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, "make deps\nmake", res.Nodes[0].Attrs.Command)
}

func TestGenerateEmptyGraph(t *testing.T) {
	assert.Equal(t, "", Generate(graph.New()))
}

func TestGenerateMinimalRecordAndSeparators(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(&graph.Node{ID: "a", Kind: graph.KindCustom, DisplayName: "Smoke Check", Position: graph.Position{X: 200}}))
	require.NoError(t, g.AddNode(&graph.Node{ID: "b", Kind: graph.KindBuild, Position: graph.Position{X: 100}}))

	text := Generator{DefaultImage: "busybox"}.Generate(g)
	assert.Equal(t, "- name: build\n  image: busybox\n\n- name: smoke-check\n  image: busybox\n", text)
}

func TestOrderedPrefersDeclarationIndex(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(&graph.Node{ID: "free", Position: graph.Position{X: -50}}))
	require.NoError(t, g.AddNode(&graph.Node{ID: "second", OrderIndex: graph.Index(1), Position: graph.Position{X: 0}}))
	require.NoError(t, g.AddNode(&graph.Node{ID: "first", OrderIndex: graph.Index(0), Position: graph.Position{X: 900}}))
	require.NoError(t, g.AddNode(&graph.Node{ID: "start", Kind: graph.KindStart}))

	var ids []string
	for _, n := range Ordered(g) {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"first", "second", "free"}, ids)
}

func TestGenerateKeepsEveryNodeWhenSequentialOutputTruncates(t *testing.T) {
	g := graph.New()
	for _, n := range []*graph.Node{
		{ID: "start", Kind: graph.KindStart},
		{ID: "a", Name: "build", Kind: graph.KindBuild, Attrs: graph.Attributes{Command: "make build"}},
		{ID: "b", Name: "unit", Kind: graph.KindTest, Attrs: graph.Attributes{Command: "make unit"}},
		{ID: "c", Name: "lint", Kind: graph.KindCustom, Attrs: graph.Attributes{Command: "make lint"}},
		{ID: "d", Name: "publish", Kind: graph.KindDeploy, Attrs: graph.Attributes{Command: "make publish"}},
	} {
		require.NoError(t, g.AddNode(n))
	}
	for _, e := range [][2]string{{"start", "a"}, {"a", "b"}, {"a", "c"}, {"c", "d"}} {
		require.NoError(t, g.AddEdge(graph.Edge{Source: e[0], Target: e[1]}))
	}

	seq := script.Render(g)
	require.True(t, seq.Truncated)
	assert.Equal(t, order.StopBranch, seq.Stop)
	assert.ElementsMatch(t, []string{"b", "c", "d"}, seq.Omitted)
	assert.Contains(t, seq.Text, "make build")
	assert.NotContains(t, seq.Text, "make unit")

	deps := make(map[string][]string)
	for _, rec := range decode(t, Generate(g)) {
		deps[rec.Name] = rec.Dependencies
	}
	assert.Equal(t, map[string][]string{
		"build":   nil,
		"unit":    {"build"},
		"lint":    {"build"},
		"publish": {"lint"},
	}, deps)
}
