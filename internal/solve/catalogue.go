package solve

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/22f2001388/llm-analysis-quiz/internal/llm"
)

const (
	TierKindDeterministic = "deterministic"
	TierKindLLM           = "llm"
)

// TierSpec describes one tier in tiers.yaml.
type TierSpec struct {
	Name            string        `yaml:"name"`
	Kind            string        `yaml:"kind"`
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxPromptTokens int           `yaml:"max_prompt_tokens"`
}

// Catalogue lists the tiers tried for each complexity, in order.
type Catalogue struct {
	PlannerModel string                    `yaml:"planner_model"`
	Tiers        map[Complexity][]TierSpec `yaml:"tiers"`
}

func DefaultCatalogue() Catalogue {
	deterministic := TierSpec{Name: "deterministic", Kind: TierKindDeterministic, Timeout: 15 * time.Second}
	flashLite := TierSpec{Name: "flash-lite", Kind: TierKindLLM, Model: "gemini-2.5-flash-lite", Timeout: 15 * time.Second, MaxPromptTokens: 4000}
	flash := TierSpec{Name: "flash", Kind: TierKindLLM, Model: "gemini-2.5-flash", Timeout: 25 * time.Second, MaxPromptTokens: 8000}
	gemma := TierSpec{Name: "gemma", Kind: TierKindLLM, Model: "gemma-3-27b-it", Timeout: 25 * time.Second, MaxPromptTokens: 6000}
	pro := TierSpec{Name: "pro", Kind: TierKindLLM, Model: "gemini-2.5-pro", Timeout: 40 * time.Second, MaxPromptTokens: 16000}
	return Catalogue{
		PlannerModel: "gemini-2.5-flash-lite",
		Tiers: map[Complexity][]TierSpec{
			ComplexitySimple: {deterministic, flashLite, flash},
			ComplexityMedium: {flash, gemma, pro},
			ComplexityHard:   {pro, flash},
		},
	}
}

// LoadCatalogue reads a tier catalogue from path. An empty path or a missing
// file yields DefaultCatalogue.
func LoadCatalogue(path string) (Catalogue, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalogue(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultCatalogue(), nil
	}
	if err != nil {
		return Catalogue{}, fmt.Errorf("read tiers file: %w", err)
	}
	return ParseCatalogue(data)
}

func ParseCatalogue(data []byte) (Catalogue, error) {
	var cat Catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalogue{}, fmt.Errorf("parse tiers file: %w", err)
	}
	defaults := DefaultCatalogue()
	if cat.PlannerModel == "" {
		cat.PlannerModel = defaults.PlannerModel
	}
	if len(cat.Tiers) == 0 {
		cat.Tiers = defaults.Tiers
	}
	for complexity, specs := range cat.Tiers {
		for i := range specs {
			if specs[i].Kind == "" {
				specs[i].Kind = TierKindLLM
			}
			if specs[i].Name == "" {
				specs[i].Name = specs[i].Model
			}
		}
		cat.Tiers[complexity] = specs
	}
	return cat, cat.Validate()
}

func (c Catalogue) Validate() error {
	var errs []error
	if len(c.Tiers[ComplexityMedium]) == 0 {
		errs = append(errs, errors.New("tiers.medium must list at least one tier"))
	}
	for complexity, specs := range c.Tiers {
		if _, ok := ParseComplexity(string(complexity)); !ok {
			errs = append(errs, fmt.Errorf("unknown complexity %q", complexity))
		}
		for i, spec := range specs {
			switch spec.Kind {
			case TierKindDeterministic:
			case TierKindLLM:
				if spec.Model == "" {
					errs = append(errs, fmt.Errorf("tiers.%s[%d]: model is required", complexity, i))
				}
			default:
				errs = append(errs, fmt.Errorf("tiers.%s[%d]: unknown kind %q", complexity, i, spec.Kind))
			}
			if spec.Timeout < 0 {
				errs = append(errs, fmt.Errorf("tiers.%s[%d]: negative timeout", complexity, i))
			}
		}
	}
	return errors.Join(errs...)
}

// Build turns the catalogue into cascade tiers. LLM tiers get a provider bound
// to their model.
func (c Catalogue) Build(models llm.ModelBinder, tokens *Tokenizer, logger *slog.Logger) map[Complexity][]Tier {
	deterministic := NewDeterministicSolver()
	out := make(map[Complexity][]Tier, len(c.Tiers))
	for complexity, specs := range c.Tiers {
		tiers := make([]Tier, 0, len(specs))
		for _, spec := range specs {
			tier := Tier{Name: spec.Name, Timeout: spec.Timeout}
			switch spec.Kind {
			case TierKindDeterministic:
				tier.Solver = deterministic
			default:
				tier.Solver = NewLLMSolver(models.WithModel(spec.Model), LLMSolverOptions{
					Name:            spec.Name,
					MaxPromptTokens: spec.MaxPromptTokens,
					Tokenizer:       tokens,
					Logger:          logger,
				})
			}
			tiers = append(tiers, tier)
		}
		out[complexity] = tiers
	}
	return out
}
