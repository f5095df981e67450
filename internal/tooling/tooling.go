// Package tooling maps a caller-supplied parameter set onto a concrete
// worker invocation for one of the known extraction tools. Each tool carries
// a declarative flag table; unknown parameter keys are ignored rather than
// passed through.
package tooling

import (
	"strings"

	"github.com/gitmine/gitmine/internal/model"
)

// Known tool selectors. The enumeration is closed: anything else is rejected
// at submission time.
const (
	FileCommitHistory    = "file-commit-history"
	PullRequestExtractor = "pull-request-extractor"
)

// TokenPlaceholder replaces the raw credential in audit previews.
const TokenPlaceholder = "[TOKEN]"

type valueKind int

const (
	kindString valueKind = iota
	kindBool
	kindRepos // comma/whitespace delimited list -> flag + positionals
)

type argSpec struct {
	key     string
	flag    string
	kind    valueKind
	negFlag string // emitted when a negatable bool is explicitly false
}

// Program is the executable half of a tool, taken from configuration: the
// binary plus any leading arguments (an interpreter with a script, say) and
// extra KEY=VALUE pairs added to the worker environment.
type Program struct {
	Path string
	Args []string
	Env  []string
}

// Catalog resolves tool selectors to programs and flag tables.
type Catalog struct {
	programs map[string]Program
}

var argSpecs = map[string][]argSpec{
	FileCommitHistory: {
		{key: "repos", flag: "--repos", kind: kindRepos},
		{key: "org", flag: "--org", kind: kindString},
		{key: "file_path", flag: "--file-path", kind: kindString},
		{key: "since", flag: "--since", kind: kindString},
		{key: "until", flag: "--until", kind: kindString},
		{key: "sha", flag: "--sha", kind: kindString},
		{key: "verbose", flag: "--verbose", kind: kindBool},
	},
	PullRequestExtractor: {
		{key: "repos", flag: "--repos", kind: kindRepos},
		{key: "org", flag: "--org", kind: kindString},
		{key: "since", flag: "--since", kind: kindString},
		{key: "until", flag: "--until", kind: kindString},
		{key: "state", flag: "--state", kind: kindString},
		{key: "merged_only", flag: "--merged-only", kind: kindBool, negFlag: "--no-merged-only"},
		{key: "verbose", flag: "--verbose", kind: kindBool},
	},
}

func NewCatalog(programs map[string]Program) *Catalog {
	return &Catalog{programs: programs}
}

// Known reports whether tool is part of the closed enumeration and has a
// configured program.
func (c *Catalog) Known(tool string) bool {
	_, enumerated := argSpecs[tool]
	_, configured := c.programs[tool]
	return enumerated && configured
}

// Invocation is a fully-constructed worker command.
type Invocation struct {
	Path string
	Args []string
	Dir  string
	Env  []string // extra KEY=VALUE pairs on top of the parent environment
}

// Preview returns the argv with the raw credential replaced, safe for logs
// and audit entries.
func (inv Invocation) Preview(token string) []string {
	preview := make([]string, 0, len(inv.Args)+1)
	preview = append(preview, inv.Path)
	for _, a := range inv.Args {
		if a == token && token != "" {
			a = TokenPlaceholder
		}
		preview = append(preview, a)
	}
	return preview
}

// Build constructs the invocation for tool. Standard flags (output directory,
// per-job audit log, progress switch) come first, then the mapped caller
// parameters, then the raw token last so it can be identified and masked
// without re-parsing flag semantics.
func (c *Catalog) Build(tool string, params map[string]any, outputDir, scriptAuditPath, token string) (Invocation, error) {
	specs, ok := argSpecs[tool]
	if !ok {
		return Invocation{}, model.ErrUnknownTool
	}
	prog, ok := c.programs[tool]
	if !ok {
		return Invocation{}, model.ErrUnknownTool
	}

	args := append([]string(nil), prog.Args...)
	args = append(args,
		"--output-dir", outputDir,
		"--emit-progress",
		"--audit-log", scriptAuditPath,
	)

	for _, spec := range specs {
		val, ok := params[spec.key]
		if !ok || val == nil {
			continue
		}
		switch spec.kind {
		case kindRepos:
			parts := splitRepos(val)
			if len(parts) > 0 {
				args = append(args, spec.flag)
				args = append(args, parts...)
			}
		case kindBool:
			b, ok := val.(bool)
			if !ok {
				continue
			}
			if b {
				args = append(args, spec.flag)
			} else if spec.negFlag != "" {
				args = append(args, spec.negFlag)
			}
		case kindString:
			s, ok := val.(string)
			if !ok || s == "" {
				continue
			}
			args = append(args, spec.flag, s)
		}
	}

	args = append(args, "--token", token)

	return Invocation{Path: prog.Path, Args: args, Env: prog.Env}, nil
}

// splitRepos accepts a comma- or whitespace-delimited string, or a list of
// strings, and returns the individual repository names.
func splitRepos(val any) []string {
	switch v := val.(type) {
	case string:
		return strings.Fields(strings.ReplaceAll(v, ",", " "))
	case []string:
		return v
	case []any:
		var parts []string
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	default:
		return nil
	}
}
