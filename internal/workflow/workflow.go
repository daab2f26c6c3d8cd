// Package workflow derives a CI workflow document from the linear chain of a
// pipeline graph. It only generates; there is no parser for this format.
package workflow

import (
	"bytes"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tandem/internal/graph"
	"github.com/mattjoyce/tandem/internal/order"
	"github.com/mattjoyce/tandem/internal/script"
)

const (
	DefaultName   = "CI"
	DefaultRunsOn = "ubuntu-latest"
	DefaultBranch = "main"

	// EmptyComment follows the fixed steps when the chain has no nodes.
	EmptyComment = "# No pipeline steps yet: connect nodes to the start node to add them."
)

// stepIndent lines a trailing comment up with the step list.
const stepIndent = "      "

// Generator writes workflow documents.
type Generator struct {
	Name   string
	RunsOn string
	Branch string
}

type setup struct {
	name string
	uses string
	with [][2]string
}

var setups = map[graph.Ecosystem]setup{
	graph.EcosystemNode:   {name: "Set up Node.js", uses: "actions/setup-node@v4", with: [][2]string{{"node-version", "20"}}},
	graph.EcosystemPython: {name: "Set up Python", uses: "actions/setup-python@v5", with: [][2]string{{"python-version", "3.12"}}},
	graph.EcosystemGo:     {name: "Set up Go", uses: "actions/setup-go@v5", with: [][2]string{{"go-version", "stable"}}},
	graph.EcosystemJava:   {name: "Set up Java", uses: "actions/setup-java@v4", with: [][2]string{{"distribution", "temurin"}, {"java-version", "21"}}},
	graph.EcosystemRust:   {name: "Set up Rust", uses: "dtolnay/rust-toolchain@stable"},
}

// Render linearizes g with default settings.
func Render(g *graph.Graph) script.Rendered {
	return Generator{}.Render(g)
}

// Generate writes nodes with default settings.
func Generate(nodes []*graph.Node) string {
	return Generator{}.Generate(nodes)
}

// Render linearizes g and writes the chain, reporting nodes left out.
func (gen Generator) Render(g *graph.Graph) script.Rendered {
	chain := order.Linearize(g)
	return script.Rendered{
		Text:      gen.Generate(chain.Nodes),
		Truncated: chain.Truncated(),
		Stop:      chain.Stop,
		Omitted:   chain.Omitted,
	}
}

// Generate writes a checkout step, one setup step per ecosystem in use (in
// priority order), then one step per node.
func (gen Generator) Generate(nodes []*graph.Node) string {
	name := orDefault(gen.Name, DefaultName)
	runsOn := orDefault(gen.RunsOn, DefaultRunsOn)
	branch := orDefault(gen.Branch, DefaultBranch)

	steps := seq(mapping(kv("name", str("Checkout")), kv("uses", str("actions/checkout@v4"))))

	used := make(map[graph.Ecosystem]bool)
	for _, n := range nodes {
		if n.Attrs.Ecosystem != graph.EcosystemNone {
			used[n.Attrs.Ecosystem] = true
		}
	}
	for _, eco := range graph.Ecosystems() {
		if !used[eco] {
			continue
		}
		s := setups[eco]
		step := mapping(kv("name", str(s.name)), kv("uses", str(s.uses)))
		if len(s.with) > 0 {
			with := mapping()
			for _, pair := range s.with {
				with.Content = append(with.Content, kv(pair[0], str(pair[1]))...)
			}
			step.Content = append(step.Content, kv("with", with)...)
		}
		steps.Content = append(steps.Content, step)
	}

	added := 0
	for _, n := range nodes {
		step := nodeStep(n)
		if step == nil {
			continue
		}
		steps.Content = append(steps.Content, step)
		added++
	}

	doc := mapping(
		kv("name", str(name)),
		kv("on", mapping(kv("push", mapping(kv("branches", seq(str(branch))))))),
		kv("jobs", mapping(kv("pipeline", mapping(
			kv("runs-on", str(runsOn)),
			kv("steps", steps),
		)))),
	)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "# " + name + "\n"
	}
	_ = enc.Close()
	if added == 0 {
		buf.WriteString(stepIndent + EmptyComment + "\n")
	}
	return buf.String()
}

// nodeStep returns nil for nodes the fixed steps already cover.
func nodeStep(n *graph.Node) *yaml.Node {
	switch n.Kind {
	case graph.KindStart:
		return nil
	case graph.KindCheckout:
		if n.Attrs.RepoURL == "" && strings.TrimSpace(n.Attrs.Command) == "" {
			return nil
		}
	}

	step := mapping(kv("name", str(n.Label())), kv("run", str(strings.TrimRight(script.Command(n), "\n"))))
	if len(n.Attrs.Env) > 0 {
		env := mapping()
		for _, k := range sortedKeys(n.Attrs.Env) {
			env.Content = append(env.Content, kv(k, str(n.Attrs.Env[k]))...)
		}
		step.Content = append(step.Content, kv("env", env)...)
	}
	return step
}

func str(v string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
	if strings.Contains(v, "\n") {
		n.Style = yaml.LiteralStyle
	}
	return n
}

func kv(key string, value *yaml.Node) []*yaml.Node {
	return []*yaml.Node{str(key), value}
}

func mapping(pairs ...[]*yaml.Node) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range pairs {
		n.Content = append(n.Content, p...)
	}
	return n
}

func seq(items ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: items}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
