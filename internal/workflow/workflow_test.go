package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tandem/internal/graph"
	"github.com/mattjoyce/tandem/internal/order"
)

type step struct {
	Name string            `yaml:"name"`
	Uses string            `yaml:"uses"`
	Run  string            `yaml:"run"`
	With map[string]string `yaml:"with"`
	Env  map[string]string `yaml:"env"`
}

type document struct {
	Name string `yaml:"name"`
	On   struct {
		Push struct {
			Branches []string `yaml:"branches"`
		} `yaml:"push"`
	} `yaml:"on"`
	Jobs map[string]struct {
		RunsOn string `yaml:"runs-on"`
		Steps  []step `yaml:"steps"`
	} `yaml:"jobs"`
}

func decode(t *testing.T, text string) document {
	t.Helper()
	var doc document
	require.NoError(t, yaml.Unmarshal([]byte(text), &doc), text)
	return doc
}

func chain(t *testing.T, nodes ...*graph.Node) *graph.Graph {
	t.Helper()
	g := graph.New()
	require.NoError(t, g.AddNode(&graph.Node{ID: "start", Kind: graph.KindStart}))
	prev := "start"
	for _, n := range nodes {
		require.NoError(t, g.AddNode(n))
		require.NoError(t, g.AddEdge(graph.Edge{Source: prev, Target: n.ID}))
		prev = n.ID
	}
	return g
}

func TestGenerateStepsInThreeParts(t *testing.T) {
	g := chain(t,
		&graph.Node{ID: "a", Kind: graph.KindCheckout},
		&graph.Node{ID: "b", Kind: graph.KindInstall, Attrs: graph.Attributes{Ecosystem: graph.EcosystemPython}},
		&graph.Node{ID: "c", Kind: graph.KindTest, Attrs: graph.Attributes{Ecosystem: graph.EcosystemNode}},
		&graph.Node{ID: "d", Kind: graph.KindBuild, Attrs: graph.Attributes{Ecosystem: graph.EcosystemNode}},
		&graph.Node{ID: "e", Kind: graph.KindDeploy, Attrs: graph.Attributes{Environment: "prod", Env: map[string]string{"Z": "1", "A": "2"}}},
	)

	out := Render(g)
	assert.False(t, out.Truncated)
	assert.Equal(t, order.StopEnd, out.Stop)

	doc := decode(t, out.Text)
	assert.Equal(t, DefaultName, doc.Name)
	assert.Equal(t, []string{DefaultBranch}, doc.On.Push.Branches)
	require.Contains(t, doc.Jobs, "pipeline")
	job := doc.Jobs["pipeline"]
	assert.Equal(t, DefaultRunsOn, job.RunsOn)

	names := make([]string, 0, len(job.Steps))
	for _, s := range job.Steps {
		names = append(names, s.Name)
	}
	// Checkout without a repository is covered by the fixed step; setups
	// follow ecosystem priority, not node order.
	assert.Equal(t, []string{
		"Checkout",
		"Set up Node.js",
		"Set up Python",
		"Install Dependencies",
		"Run Tests",
		"Build",
		"Deploy",
	}, names)

	assert.Equal(t, "actions/checkout@v4", job.Steps[0].Uses)
	assert.Equal(t, "20", job.Steps[1].With["node-version"])
	assert.Equal(t, "pip install -r requirements.txt", job.Steps[3].Run)
	assert.Equal(t, "kubectl apply -f k8s/ --namespace prod", job.Steps[6].Run)
	assert.Equal(t, map[string]string{"A": "2", "Z": "1"}, job.Steps[6].Env)

	assert.Less(t, strings.Index(out.Text, " A: "), strings.Index(out.Text, " Z: "))
}

func TestGenerateEmptyChainLeavesComment(t *testing.T) {
	out := Render(chain(t))
	assert.Contains(t, out.Text, "No pipeline steps yet")

	doc := decode(t, out.Text)
	require.Len(t, doc.Jobs["pipeline"].Steps, 1)
	assert.Equal(t, "Checkout", doc.Jobs["pipeline"].Steps[0].Name)
}

func TestGenerateCheckoutWithRepository(t *testing.T) {
	g := chain(t, &graph.Node{ID: "a", Kind: graph.KindCheckout, Attrs: graph.Attributes{RepoURL: "https://example.com/lib.git", Branch: "dev"}})

	doc := decode(t, Render(g).Text)
	steps := doc.Jobs["pipeline"].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, "git clone --branch dev https://example.com/lib.git .", steps[1].Run)
}

func TestGenerateKeepsMultiLineCommands(t *testing.T) {
	cmd := "for f in a b; do\n  echo $f\ndone"
	g := chain(t, &graph.Node{ID: "a", Kind: graph.KindCustom, DisplayName: "Loop", Attrs: graph.Attributes{Command: cmd}})

	out := Render(g).Text
	assert.Contains(t, out, "run: |")
	doc := decode(t, out)
	assert.Equal(t, cmd, doc.Jobs["pipeline"].Steps[1].Run)
}

func TestGeneratorSettings(t *testing.T) {
	gen := Generator{Name: "Release", RunsOn: "self-hosted", Branch: "trunk"}
	doc := decode(t, gen.Render(chain(t)).Text)
	assert.Equal(t, "Release", doc.Name)
	assert.Equal(t, []string{"trunk"}, doc.On.Push.Branches)
	assert.Equal(t, "self-hosted", doc.Jobs["pipeline"].RunsOn)
}

func TestRenderReportsOmittedBranches(t *testing.T) {
	g := chain(t, &graph.Node{ID: "a", Kind: graph.KindBuild})
	for _, id := range []string{"b", "c"} {
		require.NoError(t, g.AddNode(&graph.Node{ID: id, Kind: graph.KindTest}))
		require.NoError(t, g.AddEdge(graph.Edge{Source: "a", Target: id}))
	}

	out := Render(g)
	assert.True(t, out.Truncated)
	assert.Equal(t, order.StopBranch, out.Stop)
	assert.Equal(t, []string{"b", "c"}, out.Omitted)

	steps := decode(t, out.Text).Jobs["pipeline"].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, "make build", steps[1].Run)
}
