package script

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/tandem/internal/graph"
	"github.com/mattjoyce/tandem/internal/order"
)

const (
	DefaultShell  = "#!/usr/bin/env bash"
	DefaultBanner = `echo "Starting pipeline..."`
)

// Generator writes node chains as a shell script.
type Generator struct {
	Shell  string
	Banner string
}

// Rendered is a generated script plus how much of the graph it covers.
type Rendered struct {
	Text      string     `json:"text"`
	Truncated bool       `json:"truncated"`
	Stop      order.Stop `json:"stop"`
	Omitted   []string   `json:"omitted,omitempty"`
}

// Generate writes nodes with the default preamble.
func Generate(nodes []*graph.Node) string {
	return Generator{}.Generate(nodes)
}

// Render linearizes g and writes the resulting chain with the default preamble.
func Render(g *graph.Graph) Rendered {
	return Generator{}.Render(g)
}

// Render linearizes g and writes the chain. Nodes past a branch are left out
// and reported through Truncated and Omitted.
func (gen Generator) Render(g *graph.Graph) Rendered {
	chain := order.Linearize(g)
	return Rendered{
		Text:      gen.Generate(chain.Nodes),
		Truncated: chain.Truncated(),
		Stop:      chain.Stop,
		Omitted:   chain.Omitted,
	}
}

// Generate writes the preamble followed by a labelled command block for each
// non-start node, in the order given.
func (gen Generator) Generate(nodes []*graph.Node) string {
	shell := gen.Shell
	if shell == "" {
		shell = DefaultShell
	}
	banner := gen.Banner
	if banner == "" {
		banner = DefaultBanner
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\nset -euo pipefail\n\n%s\n", shell, banner)
	for _, n := range nodes {
		if n.Kind == graph.KindStart {
			continue
		}
		fmt.Fprintf(&b, "\n# %s\n", n.Label())
		for i, line := range strings.Split(strings.TrimRight(Command(n), "\n"), "\n") {
			if i > 0 && line != "" && line[0] != ' ' && line[0] != '\t' {
				line = "  " + line
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Command returns the shell command a node runs: its explicit command when
// set, otherwise one derived from its kind and attributes.
func Command(n *graph.Node) string {
	if strings.TrimSpace(n.Attrs.Command) != "" {
		return n.Attrs.Command
	}
	a := n.Attrs
	switch n.Kind {
	case graph.KindStart:
		return ""
	case graph.KindCheckout:
		repo := a.RepoURL
		if repo == "" {
			repo = `"$REPO_URL"`
		}
		if a.Branch != "" {
			return fmt.Sprintf("git clone --branch %s %s .", a.Branch, repo)
		}
		return fmt.Sprintf("git clone %s .", repo)
	case graph.KindInstall:
		return byEcosystem(a.Ecosystem, map[graph.Ecosystem]string{
			graph.EcosystemNode:   "npm ci",
			graph.EcosystemPython: "pip install -r requirements.txt",
			graph.EcosystemGo:     "go mod download",
			graph.EcosystemJava:   "mvn -B dependency:go-offline",
			graph.EcosystemRust:   "cargo fetch",
		}, `echo "Installing dependencies"`)
	case graph.KindBuild:
		return byEcosystem(a.Ecosystem, map[graph.Ecosystem]string{
			graph.EcosystemNode:   "npm run build",
			graph.EcosystemPython: "python -m build",
			graph.EcosystemGo:     "go build ./...",
			graph.EcosystemJava:   "mvn -B package",
			graph.EcosystemRust:   "cargo build --release",
		}, "make build")
	case graph.KindTest:
		return byEcosystem(a.Ecosystem, map[graph.Ecosystem]string{
			graph.EcosystemNode:   "npm test",
			graph.EcosystemPython: "pytest",
			graph.EcosystemGo:     "go test ./...",
			graph.EcosystemJava:   "mvn -B test",
			graph.EcosystemRust:   "cargo test",
		}, "make test")
	case graph.KindDockerBuild:
		tag := a.Tag
		if tag == "" {
			tag = "app:latest"
		}
		return fmt.Sprintf("docker build -t %s .", tag)
	case graph.KindDeploy:
		if a.Environment != "" {
			return "kubectl apply -f k8s/ --namespace " + a.Environment
		}
		return "kubectl apply -f k8s/"
	case graph.KindNotify:
		msg := a.Message
		if msg == "" {
			msg = "Pipeline finished"
		}
		payload := fmt.Sprintf(`{"text":"%s"}`, msg)
		if a.Channel != "" {
			payload = fmt.Sprintf(`{"channel":"%s","text":"%s"}`, a.Channel, msg)
		}
		return fmt.Sprintf(`curl -sS -X POST -H 'Content-Type: application/json' -d '%s' "$SLACK_WEBHOOK_URL"`, payload)
	default:
		return fmt.Sprintf(`echo "Running %s"`, n.Label())
	}
}

func byEcosystem(eco graph.Ecosystem, cmds map[graph.Ecosystem]string, fallback string) string {
	if cmd, ok := cmds[eco]; ok {
		return cmd
	}
	return fallback
}
