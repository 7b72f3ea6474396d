package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
}

// StoreConfig selects the lineage store. An empty URI selects the in-memory
// store; otherwise a bolt:// URI for Memgraph.
type StoreConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type CorpusConfig struct {
	Path string `toml:"path"`
	TopK int    `toml:"top_k"`
}

// EHRConfig points at the order system. An empty BaseURL selects the local
// stub client that assigns order IDs without an external call.
type EHRConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

type PipelineConfig struct {
	MaxConcurrentFindings   int `toml:"max_concurrent_findings"`
	ReasoningTimeoutSeconds int `toml:"reasoning_timeout_seconds"`
	EmbeddingTimeoutSeconds int `toml:"embedding_timeout_seconds"`
	EHRTimeoutSeconds       int `toml:"ehr_timeout_seconds"`
	MaxRetries              int `toml:"max_retries"`
	MinReportChars          int `toml:"min_report_chars"`
}

// Thresholds hold the size bounds (mm) above which a finding of the given
// type is high risk, plus the size above which any finding is forced to
// human review.
type Thresholds struct {
	HighRiskSolidMM       float64 `toml:"high_risk_solid_mm"`
	HighRiskGroundGlassMM float64 `toml:"high_risk_ground_glass_mm"`
	HighRiskPartSolidMM   float64 `toml:"high_risk_part_solid_mm"`
	HighRiskLiverMM       float64 `toml:"high_risk_liver_mm"`
	ReviewSizeMM          float64 `toml:"review_size_mm"`
}

type Prompts struct {
	Extraction string `toml:"extraction"`
	Reasoning  string `toml:"reasoning"`
}

type Config struct {
	LLM        LLMConfig      `toml:"llm"`
	Store      StoreConfig    `toml:"store"`
	Corpus     CorpusConfig   `toml:"corpus"`
	EHR        EHRConfig      `toml:"ehr"`
	Pipeline   PipelineConfig `toml:"pipeline"`
	Thresholds Thresholds     `toml:"thresholds"`
	Prompts    Prompts        `toml:"prompts"`
}

const defaultExtractionPrompt = `Extract all clinically significant findings from this radiology report.

Report:
%s

For each finding, extract:
- type: one of solid_nodule, ground_glass_nodule, part_solid_nodule, consolidation, liver_lesion, other
- size_mm: size in millimeters, if stated
- location: anatomical location
- characteristics: descriptors (solid, ground-glass, spiculated, calcified, new, growing, solitary)
- confidence: 0.0-1.0

Return a JSON array:
[
  {"type": "ground_glass_nodule", "size_mm": 3, "location": "right upper lobe", "characteristics": ["ground-glass", "solitary"], "confidence": 0.9}
]

If no significant findings, return an empty array: []`

const defaultReasoningPrompt = `Given this finding, determine what follow-up is needed.

Finding:
%s

Relevant guideline passages (cite by passage_id):
%s

If more than one passage could apply, choose the follow-up with the highest urgency.
Always cite which passage you are applying. Never recommend "no follow-up" for suspicious findings.

Return JSON:
{
  "follow_up_type": "CT Chest without contrast",
  "timeframe_months": 6,
  "urgency": "routine",
  "reasoning": "step-by-step explanation",
  "citation_passage_id": "fleischner-2017-solid-6-8"
}

If no follow-up is warranted, return "follow_up_type": "none" and omit timeframe_months.`

// Default returns the compiled-in configuration. Load layers a TOML file on
// top of it, so a partial file only overrides what it names.
func Default() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Path: "data/guidelines.json",
			TopK: 5,
		},
		Pipeline: PipelineConfig{
			MaxConcurrentFindings:   4,
			ReasoningTimeoutSeconds: 30,
			EmbeddingTimeoutSeconds: 30,
			EHRTimeoutSeconds:       15,
			MaxRetries:              3,
			MinReportChars:          50,
		},
		Thresholds: Thresholds{
			HighRiskSolidMM:       8,
			HighRiskGroundGlassMM: 20,
			HighRiskPartSolidMM:   6,
			HighRiskLiverMM:       10,
			ReviewSizeMM:          30,
		},
		Prompts: Prompts{
			Extraction: defaultExtractionPrompt,
			Reasoning:  defaultReasoningPrompt,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides config fields from environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		c.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("STORE_URI"); v != "" {
		c.Store.URI = v
	}
	if v := os.Getenv("STORE_USER"); v != "" {
		c.Store.User = v
	}
	if v := os.Getenv("STORE_PASSWORD"); v != "" {
		c.Store.Password = v
	}
	if v := os.Getenv("CORPUS_PATH"); v != "" {
		c.Corpus.Path = v
	}
	if v := os.Getenv("EHR_BASE_URL"); v != "" {
		c.EHR.BaseURL = v
	}
	if v := os.Getenv("EHR_API_KEY"); v != "" {
		c.EHR.APIKey = v
	}
	if v := os.Getenv("CORPUS_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Corpus.TopK = k
		}
	}
}
