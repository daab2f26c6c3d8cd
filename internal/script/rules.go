package script

import (
	"path"
	"regexp"
	"strings"

	"github.com/mattjoyce/tandem/internal/graph"
)

// Rule recognises one family of tool invocations.
type Rule struct {
	Name  string
	Match func(cmd string) bool
	Build func(cmd string) *graph.Node
}

// Rules is evaluated top to bottom; the first match wins. The last rule
// matches everything, so no command is ever dropped.
var Rules = []Rule{
	// Notify comes first: its message is free text that may name any tool.
	{Name: "notify", Match: func(cmd string) bool {
		lower := strings.ToLower(cmd)
		return strings.Contains(lower, "hooks.slack.com") ||
			(strings.Contains(lower, "curl") && strings.Contains(lower, "webhook"))
	}, Build: buildNotify},
	{Name: "git-clone", Match: containsAny("git clone"), Build: buildCheckout},
	{Name: "container-build", Match: containsAny("docker build", "docker buildx build", "podman build"), Build: buildDocker},
	{Name: "install", Match: containsAny(
		"npm ci", "npm install", "yarn install", "pnpm install",
		"pip install", "pip3 install", "poetry install", "pipenv install",
		"go mod download",
		"dependency:go-offline", "dependency:resolve", "gradle dependencies",
		"cargo fetch",
	), Build: kindBuilder(graph.KindInstall)},
	{Name: "test", Match: containsAny(
		"npm test", "npm run test", "yarn test", "pnpm test", "npx jest",
		"pytest", "python -m unittest", "tox",
		"go test",
		"mvn test", "mvn -b test", "gradle test", "gradlew test",
		"cargo test",
		"make test",
	), Build: kindBuilder(graph.KindTest)},
	{Name: "build", Match: func(cmd string) bool {
		return containsAny(
			"npm run build", "yarn build", "pnpm build", "pnpm run build",
			"python -m build", "python setup.py",
			"go build",
			"mvn package", "mvn -b package", "mvn install", "gradle build", "gradlew build",
			"cargo build",
			"make build",
		)(cmd) || strings.HasPrefix(strings.TrimSpace(strings.ToLower(cmd)), "make")
	}, Build: kindBuilder(graph.KindBuild)},
	{Name: "deploy", Match: func(cmd string) bool {
		return containsAny(
			"kubectl apply", "kubectl rollout", "kubectl set image",
			"helm upgrade", "helm install", "terraform apply",
		)(cmd) || invokesDeploy(cmd)
	}, Build: buildDeploy},
	{Name: "custom", Match: func(string) bool { return true }, Build: kindBuilder(graph.KindCustom)},
}

// Classify runs the rule table against a command and returns the node the
// first matching rule builds. The node carries the command verbatim.
func Classify(cmd string) *graph.Node {
	for _, rule := range Rules {
		if rule.Match(cmd) {
			n := rule.Build(cmd)
			n.Attrs.Command = cmd
			return n
		}
	}
	// Unreachable: the last rule matches everything.
	return &graph.Node{Kind: graph.KindCustom, Attrs: graph.Attributes{Command: cmd}}
}

var deployWord = regexp.MustCompile(`^deploy([._-][a-z0-9._-]*)?$`)

// invokesDeploy reports whether a word of cmd is a deploy command or script,
// such as "deploy", "./scripts/deploy.sh" or "npm run deploy-prod".
func invokesDeploy(cmd string) bool {
	for _, f := range strings.Fields(strings.ToLower(cmd)) {
		if deployWord.MatchString(path.Base(f)) {
			return true
		}
	}
	return false
}

func containsAny(needles ...string) func(string) bool {
	return func(cmd string) bool {
		lower := strings.ToLower(cmd)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
		return false
	}
}

func kindBuilder(kind graph.Kind) func(string) *graph.Node {
	return func(cmd string) *graph.Node {
		return &graph.Node{Kind: kind, Attrs: graph.Attributes{Ecosystem: ecosystemOf(cmd)}}
	}
}

func buildCheckout(cmd string) *graph.Node {
	n := &graph.Node{Kind: graph.KindCheckout}
	fields := strings.Fields(cmd)
	seenClone := false
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		switch {
		case f == "clone":
			seenClone = true
		case !seenClone:
		case f == "-b" || f == "--branch":
			if i+1 < len(fields) {
				n.Attrs.Branch = fields[i+1]
				i++
			}
		case strings.HasPrefix(f, "--branch="):
			n.Attrs.Branch = strings.TrimPrefix(f, "--branch=")
		case strings.HasPrefix(f, "-"):
		case n.Attrs.RepoURL == "":
			n.Attrs.RepoURL = f
		}
	}
	return n
}

func buildDocker(cmd string) *graph.Node {
	n := &graph.Node{Kind: graph.KindDockerBuild}
	n.Attrs.Tag = flagValue(cmd, "-t", "--tag")
	return n
}

func buildDeploy(cmd string) *graph.Node {
	n := &graph.Node{Kind: graph.KindDeploy}
	n.Attrs.Environment = flagValue(cmd, "-n", "--namespace")
	return n
}

var (
	jsonTextPattern    = regexp.MustCompile(`"text"\s*:\s*"([^"]*)"`)
	jsonChannelPattern = regexp.MustCompile(`"channel"\s*:\s*"([^"]*)"`)
)

func buildNotify(cmd string) *graph.Node {
	n := &graph.Node{Kind: graph.KindNotify}
	if m := jsonTextPattern.FindStringSubmatch(cmd); m != nil {
		n.Attrs.Message = m[1]
	}
	if m := jsonChannelPattern.FindStringSubmatch(cmd); m != nil {
		n.Attrs.Channel = m[1]
	}
	return n
}

// flagValue returns the value following any of the given flags, accepting
// both "-t x" and "--tag=x" forms.
func flagValue(cmd string, flags ...string) string {
	fields := strings.Fields(cmd)
	for i, f := range fields {
		for _, flag := range flags {
			if f == flag && i+1 < len(fields) {
				return fields[i+1]
			}
			if strings.HasPrefix(f, flag+"=") {
				return strings.TrimPrefix(f, flag+"=")
			}
		}
	}
	return ""
}

func ecosystemOf(cmd string) graph.Ecosystem {
	lower := strings.ToLower(cmd)
	fields := strings.Fields(lower)
	first := ""
	if len(fields) > 0 {
		first = fields[0]
	}
	switch {
	case first == "npm" || first == "yarn" || first == "pnpm" || first == "npx" || first == "node":
		return graph.EcosystemNode
	case first == "pip" || first == "pip3" || first == "poetry" || first == "pipenv" ||
		first == "pytest" || first == "tox" || strings.HasPrefix(first, "python"):
		return graph.EcosystemPython
	case first == "go":
		return graph.EcosystemGo
	case first == "mvn" || first == "gradle" || strings.HasSuffix(first, "gradlew"):
		return graph.EcosystemJava
	case first == "cargo":
		return graph.EcosystemRust
	default:
		return graph.EcosystemNone
	}
}
