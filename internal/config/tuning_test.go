package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultVerifyConfig(t *testing.T) {
	cfg := DefaultVerifyConfig()

	if cfg.Resolution == nil || *cfg.Resolution != DefaultResolution {
		t.Errorf("Expected Resolution %v, got %v", DefaultResolution, cfg.Resolution)
	}
	if cfg.Engine == nil || *cfg.Engine != EngineGlobal {
		t.Errorf("Expected Engine %q, got %v", EngineGlobal, cfg.Engine)
	}
	if cfg.Refine == nil || *cfg.Refine != true {
		t.Errorf("Expected Refine true, got %v", cfg.Refine)
	}

	if cfg.GetMoveBudget() != DefaultMoveBudget {
		t.Errorf("GetMoveBudget() = %d, want %d", cfg.GetMoveBudget(), DefaultMoveBudget)
	}
	if cfg.GetOverlapWeight() != DefaultOverlapWeight {
		t.Errorf("GetOverlapWeight() = %f, want %f", cfg.GetOverlapWeight(), DefaultOverlapWeight)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestEmptyConfigGetters(t *testing.T) {
	cfg := EmptyVerifyConfig()

	if cfg.GetEngine() != DefaultEngine {
		t.Errorf("GetEngine() = %q, want %q", cfg.GetEngine(), DefaultEngine)
	}
	if cfg.GetInlierThreshold() != DefaultInlierThreshold {
		t.Errorf("GetInlierThreshold() = %f, want %f", cfg.GetInlierThreshold(), DefaultInlierThreshold)
	}
	if cfg.GetSeed() != DefaultSeed {
		t.Errorf("GetSeed() = %d, want %d", cfg.GetSeed(), DefaultSeed)
	}
	if cfg.GetUseNormals() != DefaultUseNormals {
		t.Errorf("GetUseNormals() = %v, want %v", cfg.GetUseNormals(), DefaultUseNormals)
	}
}

func TestLoadVerifyConfig_JSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "verify.json")

	testJSON := `{
  "engine": "greedy",
  "inlier_threshold": 0.008,
  "refine": false,
  "seed": 42
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadVerifyConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetEngine() != EngineGreedy {
		t.Errorf("Expected engine greedy, got %q", cfg.GetEngine())
	}
	if cfg.GetInlierThreshold() != 0.008 {
		t.Errorf("Expected InlierThreshold 0.008, got %f", cfg.GetInlierThreshold())
	}
	if cfg.GetRefine() {
		t.Error("Expected Refine false")
	}
	if cfg.GetSeed() != 42 {
		t.Errorf("Expected Seed 42, got %d", cfg.GetSeed())
	}
	// Omitted fields keep defaults.
	if cfg.GetMoveBudget() != DefaultMoveBudget {
		t.Errorf("Expected default MoveBudget, got %d", cfg.GetMoveBudget())
	}
}

func TestLoadVerifyConfig_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "verify.yaml")

	testYAML := `engine: global
use_normals: true
overlap_weight: 3.5
move_budget: 500
`
	if err := os.WriteFile(configPath, []byte(testYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadVerifyConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.GetUseNormals() {
		t.Error("Expected UseNormals true")
	}
	if cfg.GetOverlapWeight() != 3.5 {
		t.Errorf("Expected OverlapWeight 3.5, got %f", cfg.GetOverlapWeight())
	}
	if cfg.GetMoveBudget() != 500 {
		t.Errorf("Expected MoveBudget 500, got %d", cfg.GetMoveBudget())
	}
}

func TestLoadVerifyConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadVerifyConfig("/nonexistent/path/to/config.json"); err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}

	txtPath := filepath.Join(tmpDir, "config.txt")
	if err := os.WriteFile(txtPath, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadVerifyConfig(txtPath); err == nil {
		t.Error("Expected error for unsupported extension, got nil")
	}

	badPath := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(badPath, []byte(`{"inlier_threshold": "x"`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadVerifyConfig(badPath); err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}

	invalidPath := filepath.Join(tmpDir, "invalid.json")
	if err := os.WriteFile(invalidPath, []byte(`{"engine": "exhaustive"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadVerifyConfig(invalidPath); err == nil {
		t.Error("Expected validation error for unknown engine, got nil")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults file invalid: %v", err)
	}
	want := DefaultVerifyConfig()
	if cfg.GetInlierThreshold() != want.GetInlierThreshold() ||
		cfg.GetOverlapWeight() != want.GetOverlapWeight() ||
		cfg.GetMoveBudget() != want.GetMoveBudget() ||
		cfg.GetRefineConvergence() != want.GetRefineConvergence() {
		t.Error("defaults file drifted from DefaultVerifyConfig")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *VerifyConfig
		wantErr bool
	}{
		{name: "valid config", cfg: DefaultVerifyConfig(), wantErr: false},
		{name: "empty config is valid", cfg: &VerifyConfig{}, wantErr: false},
		{name: "negative resolution", cfg: &VerifyConfig{Resolution: ptrFloat64(-1)}, wantErr: true},
		{name: "zero inlier threshold", cfg: &VerifyConfig{InlierThreshold: ptrFloat64(0)}, wantErr: true},
		{name: "normal angle too wide", cfg: &VerifyConfig{NormalAngleToleranceDeg: ptrFloat64(120)}, wantErr: true},
		{name: "negative overlap weight", cfg: &VerifyConfig{OverlapWeight: ptrFloat64(-0.1)}, wantErr: true},
		{name: "percentile above one", cfg: &VerifyConfig{RefineOutlierPercentile: ptrFloat64(1.5)}, wantErr: true},
		{name: "negative move budget", cfg: &VerifyConfig{MoveBudget: ptrInt(-5)}, wantErr: true},
		{name: "negative workers", cfg: &VerifyConfig{Workers: ptrInt(-2)}, wantErr: true},
		{name: "unknown engine", cfg: &VerifyConfig{Engine: ptrString("random")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
