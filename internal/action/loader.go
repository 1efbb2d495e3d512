package action

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/acteon/acteon/internal/schema"
)

// LoaderOptions configures YAML action-pack loading. LuaProc builds the
// procedure for a `lua` step from its script path; packs that declare lua
// steps fail to load when it is unset.
type LoaderOptions struct {
	LuaProc func(scriptPath string) ProcFunc
}

type packFile struct {
	Actions []actionDecl `yaml:"actions"`
}

type actionDecl struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Examples    []string      `yaml:"examples"`
	InputSchema schema.Schema `yaml:"input_schema"`
	Steps       []stepDecl    `yaml:"steps"`
}

type stepDecl struct {
	Type         string         `yaml:"type"` // "llm", "action", "lua"
	SystemPrompt SystemPrompt   `yaml:"system_prompt"`
	Message      string         `yaml:"message"`
	Intelligence Intelligence   `yaml:"intelligence"`
	OutputSchema *schema.Schema `yaml:"output_schema"`
	ToolChoice   *ToolChoice    `yaml:"tool_choice"`
	Action       string         `yaml:"action"`
	Script       string         `yaml:"script"`
}

// LoadDir parses every *.yaml / *.yml pack in dir into actions. The caller
// unions the result with code-registered actions via Build.
func LoadDir(dir string, opts LoaderOptions) ([]Action, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading action dir %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var all []Action
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading pack %s: %w", path, err)
		}
		actions, err := Parse(data, filepath.Dir(path), opts)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", path, err)
		}
		all = append(all, actions...)
	}
	return all, nil
}

// Parse decodes one pack. Relative lua script paths resolve against baseDir.
func Parse(data []byte, baseDir string, opts LoaderOptions) ([]Action, error) {
	var pack packFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parsing pack: %w", err)
	}

	actions := make([]Action, 0, len(pack.Actions))
	for _, decl := range pack.Actions {
		a := Action{
			Name:        decl.Name,
			Description: decl.Description,
			Examples:    decl.Examples,
			InputSchema: decl.InputSchema,
		}
		if a.InputSchema.Type == "" {
			a.InputSchema.Type = schema.TypeObject
		}
		for i, sd := range decl.Steps {
			step, err := buildStep(sd, baseDir, opts)
			if err != nil {
				return nil, fmt.Errorf("action %q step %d: %w", decl.Name, i, err)
			}
			a.Steps = append(a.Steps, step)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func buildStep(sd stepDecl, baseDir string, opts LoaderOptions) (Step, error) {
	switch sd.Type {
	case "llm":
		return LLM(LLMStep{
			SystemPrompt: sd.SystemPrompt,
			Message:      sd.Message,
			Intelligence: sd.Intelligence,
			OutputSchema: sd.OutputSchema,
			ToolChoice:   sd.ToolChoice,
		}), nil
	case "action":
		if sd.Action == "" {
			return Step{}, fmt.Errorf("action step without a target")
		}
		return Invoke(sd.Action, nil), nil
	case "lua":
		if opts.LuaProc == nil {
			return Step{}, fmt.Errorf("lua step %q but no lua runner configured", sd.Script)
		}
		if sd.Script == "" {
			return Step{}, fmt.Errorf("lua step without a script")
		}
		script := sd.Script
		if !filepath.IsAbs(script) {
			script = filepath.Join(baseDir, script)
		}
		return Procedure(opts.LuaProc(script)), nil
	default:
		return Step{}, fmt.Errorf("unknown step type %q", sd.Type)
	}
}
