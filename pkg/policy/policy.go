// Package policy evaluates fix plans and generated patches against the
// safety policy: path allow/deny globs, patch size limits, secret
// detection and additive danger scoring.
package policy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// PathRules are allow/deny glob patterns over repo-relative paths.
// When Allowed is non-empty every touched file must match at least one
// allowed pattern.
type PathRules struct {
	Allowed   []string `yaml:"allowed" json:"allowed"`
	Forbidden []string `yaml:"forbidden" json:"forbidden"`
}

// PatchLimits bound the size of a generated patch.
type PatchLimits struct {
	MaxFiles        int `yaml:"max_files" json:"max_files"`
	MaxLinesAdded   int `yaml:"max_lines_added" json:"max_lines_added"`
	MaxLinesRemoved int `yaml:"max_lines_removed" json:"max_lines_removed"`
	MaxDiffBytes    int `yaml:"max_diff_bytes" json:"max_diff_bytes"`
}

// SecretRules hold the regex patterns treated as secrets. Matches block
// the patch and are masked by the redactor.
type SecretRules struct {
	ForbiddenPatterns []string `yaml:"forbidden_patterns" json:"forbidden_patterns"`
}

// PathWeight adds a fixed danger weight when a touched file matches the glob.
type PathWeight struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Weight  int    `yaml:"weight" json:"weight"`
}

// DangerWeights configure the additive danger score.
type DangerWeights struct {
	PathRisk      []PathWeight   `yaml:"path_risk" json:"path_risk"`
	FileThreshold int            `yaml:"file_threshold" json:"file_threshold"`
	PerFile       int            `yaml:"per_file" json:"per_file"`
	LineThreshold int            `yaml:"line_threshold" json:"line_threshold"`
	PerLineBlock  int            `yaml:"per_line_block" json:"per_line_block"` // weight per LineBlockSize lines over threshold
	LineBlockSize int            `yaml:"line_block_size" json:"line_block_size"`
	CategoryRisk  map[string]int `yaml:"category_risk" json:"category_risk"`
	SecretWeight  int            `yaml:"secret_weight" json:"secret_weight"`
	SafeMax       int            `yaml:"safe_max" json:"safe_max"`
}

// SafetyPolicy is the immutable policy configuration. Load it once at
// process start and share it read-only.
type SafetyPolicy struct {
	Paths       PathRules     `yaml:"paths" json:"paths"`
	PatchLimits PatchLimits   `yaml:"patch_limits" json:"patch_limits"`
	Secrets     SecretRules   `yaml:"secrets" json:"secrets"`
	Danger      DangerWeights `yaml:"danger" json:"danger"`

	secretRes []*regexp.Regexp
}

// Default returns the built-in policy used when no policy file is supplied.
func Default() *SafetyPolicy {
	p := &SafetyPolicy{
		Paths: PathRules{
			Forbidden: []string{
				".github/**",
				".gitlab-ci.yml",
				"infra/**",
				"terraform/**",
				"deploy/**",
				"**/*.pem",
				"**/*.key",
				"**/id_rsa*",
				".env",
				"**/.env",
			},
		},
		PatchLimits: PatchLimits{
			MaxFiles:        5,
			MaxLinesAdded:   200,
			MaxLinesRemoved: 100,
			MaxDiffBytes:    64 * 1024,
		},
		Secrets: SecretRules{
			ForbiddenPatterns: []string{
				`(?i)aws_secret_access_key\s*[:=]\s*\S+`,
				`AKIA[0-9A-Z]{16}`,
				`ghp_[A-Za-z0-9]{36}`,
				`glpat-[A-Za-z0-9_\-]{20,}`,
				`(?i)(api[_-]?key|token|password|secret)\s*[:=]\s*['"][^'"]{8,}['"]`,
				`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`,
			},
		},
		Danger: DangerWeights{
			PathRisk: []PathWeight{
				{Pattern: "Dockerfile", Weight: 3},
				{Pattern: "**/Dockerfile", Weight: 3},
				{Pattern: "docker-compose*.yml", Weight: 3},
				{Pattern: "Makefile", Weight: 2},
				{Pattern: "**/*.sh", Weight: 2},
				{Pattern: "go.sum", Weight: 1},
				{Pattern: "package-lock.json", Weight: 1},
			},
			FileThreshold: 2,
			PerFile:       2,
			LineThreshold: 50,
			PerLineBlock:  1,
			LineBlockSize: 25,
			CategoryRisk: map[string]int{
				"docker_pin_base_image": 4,
				"update_config":         3,
				"pin_dependency":        2,
				"add_dependency":        1,
				"remove_unused":         1,
			},
			SecretWeight: 50,
			SafeMax:      10,
		},
	}
	if err := p.compile(); err != nil {
		// The built-in patterns are constants; a failure here is a programming error.
		panic(err)
	}
	return p
}

// Load reads a policy YAML file, filling unset sections from Default.
func Load(path string) (*SafetyPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *SafetyPolicy) compile() error {
	p.secretRes = p.secretRes[:0]
	for _, pat := range p.Secrets.ForbiddenPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return fmt.Errorf("invalid secret pattern %q: %w", pat, err)
		}
		p.secretRes = append(p.secretRes, re)
	}
	return nil
}

// SecretPatterns returns the compiled secret regexes.
func (p *SafetyPolicy) SecretPatterns() []*regexp.Regexp {
	return p.secretRes
}
