package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/tandem/internal/config"
	"github.com/mattjoyce/tandem/internal/controller"
	"github.com/mattjoyce/tandem/internal/diag"
	"github.com/mattjoyce/tandem/internal/dot"
	"github.com/mattjoyce/tandem/internal/graph"
	"github.com/mattjoyce/tandem/internal/jobspec"
	"github.com/mattjoyce/tandem/internal/order"
	"github.com/mattjoyce/tandem/internal/script"
	"github.com/mattjoyce/tandem/internal/workflow"
)

const (
	formatJobs     = "jobs"
	formatScript   = "script"
	formatWorkflow = "workflow"
	formatDOT      = "dot"
)

var errNothingParsed = errors.New("no pipeline steps recognised")

func runConvert(args []string) int {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	from := fs.String("from", "", "Input format: jobs, script or dot (default: from file extension)")
	to := fs.String("to", formatWorkflow, "Output format: jobs, script, workflow or dot")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Usage: tandem convert [--from FORMAT] [--to FORMAT] [file]")
		return 1
	}
	path := fs.Arg(0)

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	g, err := loadGraph(cfg, path, *from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read pipeline: %v\n", err)
		return 1
	}

	out, err := render(cfg, *to, g, graphName(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to convert: %v\n", err)
		return 1
	}
	fmt.Print(out)
	return 0
}

func runGraph(args []string) int {
	fs := flag.NewFlagSet("graph", flag.ContinueOnError)
	from := fs.String("from", "", "Input format: jobs, script or dot (default: from file extension)")
	outFormat := fs.String("format", "text", "Output format: text or dot")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: tandem graph [--format text|dot] <file>")
		return 1
	}
	path := fs.Arg(0)

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	g, err := loadGraph(cfg, path, *from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read pipeline: %v\n", err)
		return 1
	}

	switch *outFormat {
	case "text":
		fmt.Print(describe(g))
	case formatDOT:
		src, err := dot.Export(g, graphName(path))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to export graph: %v\n", err)
			return 1
		}
		fmt.Print(src)
	default:
		fmt.Fprintf(os.Stderr, "Unknown graph format: %s\n", *outFormat)
		return 1
	}
	return 0
}

// engineOptions turns configuration into controller and generator settings.
func engineOptions(cfg *config.Config) controller.Options {
	return controller.Options{
		Flavor:        controller.Flavor(cfg.Engine.Flavor),
		DefaultImage:  cfg.Engine.DefaultImage,
		LayoutSpacing: cfg.Engine.LayoutSpacing,
		Script:        script.Generator{Shell: cfg.Script.Shell, Banner: cfg.Script.Banner},
		Workflow:      workflow.Generator{Name: cfg.Workflow.Name, RunsOn: cfg.Workflow.RunsOn, Branch: cfg.Workflow.Branch},
	}
}

// inferFormat picks the input format from a file extension.
func inferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sh", ".bash":
		return formatScript
	case ".dot", ".gv":
		return formatDOT
	default:
		return formatJobs
	}
}

func readInput(path string) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

func loadGraph(cfg *config.Config, path, from string) (*graph.Graph, error) {
	if from == "" {
		from = inferFormat(path)
	}
	text, err := readInput(path)
	if err != nil {
		return nil, err
	}
	g, warnings, err := parse(cfg, from, text)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return g, err
}

func parse(cfg *config.Config, from, text string) (*graph.Graph, []diag.Warning, error) {
	switch from {
	case formatJobs:
		res := jobspec.Parse(text)
		if len(res.Nodes) == 0 && len(res.Warnings) > 0 {
			return nil, res.Warnings, errNothingParsed
		}
		g, err := graph.Build(res.Nodes, res.Edges)
		return g, res.Warnings, err
	case formatScript:
		res := script.Parser{Banner: cfg.Script.Banner}.Parse(text)
		g, err := graph.Build(res.Nodes, res.Edges)
		return g, nil, err
	case formatDOT:
		g, err := dot.Import(text)
		return g, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown input format %q", from)
	}
}

func render(cfg *config.Config, to string, g *graph.Graph, name string) (string, error) {
	opts := engineOptions(cfg)
	switch to {
	case formatJobs:
		return jobspec.Generator{DefaultImage: opts.DefaultImage}.Generate(g), nil
	case formatScript:
		return sequential(opts.Script.Render(anchor(g))), nil
	case formatWorkflow:
		return sequential(opts.Workflow.Render(anchor(g))), nil
	case formatDOT:
		return dot.Export(g, name)
	default:
		return "", fmt.Errorf("unknown output format %q", to)
	}
}

// sequential reports what a truncated rendering left out.
func sequential(out script.Rendered) string {
	if out.Truncated {
		fmt.Fprintf(os.Stderr, "warning: %s: output stops at %s; omitted %s\n",
			diag.DegradedLinearization, out.Stop, strings.Join(out.Omitted, ", "))
	}
	return out.Text
}

// anchor chains a graph without a start marker behind a new one, in job
// order, so a job list can be written sequentially.
func anchor(g *graph.Graph) *graph.Graph {
	if len(g.NodesOfKind(graph.KindStart)) > 0 {
		return g
	}
	chained := graph.New()
	_ = chained.AddNode(&graph.Node{ID: script.StartID, Kind: graph.KindStart, DisplayName: graph.KindStart.Title()})
	prev := script.StartID
	for _, n := range jobspec.Ordered(g) {
		c := n.Clone()
		if err := chained.AddNode(c); err != nil {
			continue
		}
		_ = chained.AddEdge(graph.Edge{Source: prev, Target: c.ID})
		prev = c.ID
	}
	return chained
}

func graphName(path string) string {
	if path == "" || path == "-" {
		return "pipeline"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// describe lists nodes with their dependencies and, for graphs with a start
// marker, the sequential reading of the graph.
func describe(g *graph.Graph) string {
	var b strings.Builder
	deps := order.Dependencies(g)
	fmt.Fprintf(&b, "%d nodes, %d edges\n", g.Len(), len(g.Edges()))
	for _, n := range g.Nodes() {
		fmt.Fprintf(&b, "  %-10s %-13s %s", n.ID, n.Kind, n.Label())
		if d := deps[n.ID]; len(d) > 0 {
			fmt.Fprintf(&b, " <- %s", strings.Join(d, ", "))
		}
		b.WriteString("\n")
	}

	if len(g.NodesOfKind(graph.KindStart)) == 0 {
		return b.String()
	}
	chain := order.Linearize(g)
	steps := make([]string, 0, len(chain.Nodes))
	for _, n := range chain.Steps() {
		steps = append(steps, n.ID)
	}
	fmt.Fprintf(&b, "sequence: %s (stop: %s)\n", strings.Join(steps, " -> "), chain.Stop)
	if len(chain.Omitted) > 0 {
		fmt.Fprintf(&b, "omitted: %s\n", strings.Join(chain.Omitted, ", "))
	}
	return b.String()
}
