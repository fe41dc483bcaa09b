package generate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/tordrt/seedkit/internal/content"
	"gopkg.in/yaml.v3"
)

// Axis is one dimension of the prompt matrix. Axes expand in file order,
// the first axis outermost.
type Axis struct {
	Name   string   `yaml:"name"`
	Values []string `yaml:"values"`
}

// Plan describes one generation run.
type Plan struct {
	Name        string         `yaml:"name"`
	Kind        content.Kind   `yaml:"kind"`
	Table       string         `yaml:"table"`
	Output      string         `yaml:"output"`
	System      string         `yaml:"system"`
	Template    string         `yaml:"template"`
	Vars        map[string]any `yaml:"vars"`
	Matrix      []Axis         `yaml:"matrix"`
	Temperature *float64       `yaml:"temperature"`
	MaxTokens   int            `yaml:"max_tokens"`

	tmpl *template.Template
}

// Job is one prompt of the expanded matrix.
type Job struct {
	Index  int
	Key    string
	Prompt string
}

// LoadPlan reads and parses a plan file. A plan without a name is named
// after the file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	p, err := ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// ParsePlan parses a YAML plan, fills in the kind's default table and
// output file, and checks the template and matrix.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := p.init(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) init() error {
	kind, err := content.ParseKind(string(p.Kind))
	if err != nil {
		return err
	}
	p.Kind = kind
	if p.Table == "" {
		p.Table = kind.DefaultTable()
	}
	if p.Output == "" {
		p.Output = strings.ReplaceAll(string(kind), "_", "-") + ".json"
	}
	if strings.TrimSpace(p.Template) == "" {
		return fmt.Errorf("plan has no template")
	}
	seen := make(map[string]bool, len(p.Matrix))
	for _, a := range p.Matrix {
		if a.Name == "" {
			return fmt.Errorf("matrix axis without a name")
		}
		if seen[a.Name] {
			return fmt.Errorf("matrix axis %q declared twice", a.Name)
		}
		seen[a.Name] = true
		if len(a.Values) == 0 {
			return fmt.Errorf("matrix axis %q has no values", a.Name)
		}
	}

	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(p.Template)
	if err != nil {
		return fmt.Errorf("failed to parse prompt template: %w", err)
	}
	p.tmpl = tmpl
	return nil
}

// Jobs expands the matrix into prompts. The order is stable across calls,
// so a job index can be used as a resume point.
func (p *Plan) Jobs() ([]Job, error) {
	if p.tmpl == nil {
		if err := p.init(); err != nil {
			return nil, err
		}
	}

	total := 1
	for _, a := range p.Matrix {
		total *= len(a.Values)
	}

	jobs := make([]Job, 0, total)
	idx := make([]int, len(p.Matrix))
	for i := 0; i < total; i++ {
		data := make(map[string]any, len(p.Vars)+len(p.Matrix))
		for k, v := range p.Vars {
			data[k] = v
		}
		parts := make([]string, len(p.Matrix))
		for a, axis := range p.Matrix {
			v := axis.Values[idx[a]]
			data[axis.Name] = v
			parts[a] = axis.Name + "=" + v
		}

		var buf bytes.Buffer
		if err := p.tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("failed to render prompt %d: %w", i, err)
		}
		key := strings.Join(parts, ",")
		if key == "" {
			key = p.Name
		}
		jobs = append(jobs, Job{Index: i, Key: key, Prompt: buf.String()})

		// odometer, last axis fastest
		for a := len(idx) - 1; a >= 0; a-- {
			idx[a]++
			if idx[a] < len(p.Matrix[a].Values) {
				break
			}
			idx[a] = 0
		}
	}
	return jobs, nil
}
