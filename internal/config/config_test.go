package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadSampleConfig(t *testing.T) {
	path := "../../assets/sample-config/config.example.yml"
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Version != 1 {
		t.Fatalf("expected version 1, got %d", c.Version)
	}
	if c.General.DataRoot == "" || c.General.OutputRoot == "" {
		t.Fatalf("expected non-empty general paths")
	}
	if strings.HasPrefix(c.General.DataRoot, "~") {
		t.Fatalf("tilde not expanded: %s", c.General.DataRoot)
	}
	if len(c.Models.Roots["loras"]) != 1 {
		t.Fatalf("expected one loras root, got %v", c.Models.Roots["loras"])
	}
	if c.BaseURL() != "https://civitai.com" {
		t.Fatalf("BaseURL = %s", c.BaseURL())
	}
}

func TestParse_DefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MODSHELF_TEST_ROOT", dir)
	c, err := Parse([]byte("version: 1\ngeneral:\n  data_root: ${MODSHELF_TEST_ROOT}\nnetwork:\n  domain: work\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.General.DataRoot != dir {
		t.Errorf("data_root = %q, want %q", c.General.DataRoot, dir)
	}
	if c.General.OutputRoot != filepath.Join(dir, "output") {
		t.Errorf("output_root default = %q", c.General.OutputRoot)
	}
	if c.Gallery.CardWidth != 150 || c.Gallery.Gap != 8 {
		t.Errorf("gallery defaults = %+v", c.Gallery)
	}
	if c.BaseURL() != "https://civitai.work" {
		t.Errorf("BaseURL = %s", c.BaseURL())
	}
	if c.DBPath() != filepath.Join(dir, "state.db") {
		t.Errorf("DBPath = %s", c.DBPath())
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"version", "version: 2\ngeneral: {data_root: /x}\n", "unsupported config version"},
		{"data root", "version: 1\n", "general.data_root"},
		{"domain", "version: 1\ngeneral: {data_root: /x}\nnetwork: {domain: org}\n", "network.domain"},
		{"filter type", "version: 1\ngeneral: {data_root: /x}\ngallery: {filter_type: gif}\n", "gallery.filter_type"},
		{"log level", "version: 1\ngeneral: {data_root: /x}\nlogging: {level: loud}\n", "logging.level"},
		{"base url", "version: 1\ngeneral: {data_root: /x}\nnetwork: {base_url: 'civitai.com'}\n", "network.base_url"},
		{"classifier regex", "version: 1\ngeneral: {data_root: /x}\nclassifier: {rules: [{regex: '(', type: loras}]}\n", "classifier.rules[0].regex"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestValidateDetailed_MissingRoots(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nope")
	if err := os.MkdirAll(filepath.Join(dir, "loras"), 0o755); err != nil {
		t.Fatal(err)
	}
	c := &Config{Version: 1, General: General{DataRoot: dir}}
	c.Models.Roots = map[string][]string{
		"loras":   {filepath.Join(dir, "loras")},
		"widgets": {missing},
	}
	c.applyDefaults()
	errs := c.ValidateDetailed()
	var fields []string
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	if len(errs) != 2 || fields[0] != "models.roots.widgets" || fields[1] != "models.roots.widgets" {
		t.Fatalf("unexpected detailed errors: %v", fields)
	}
	if err := c.ValidateWithFriendlyErrors(); err == nil || !strings.Contains(err.Error(), "Unknown model category") {
		t.Fatalf("friendly error = %v", err)
	}
}

func TestBaseURL_Override(t *testing.T) {
	c, err := Parse([]byte("version: 1\ngeneral: {data_root: /x}\nnetwork: {domain: work, base_url: 'http://127.0.0.1:9/'}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.BaseURL() != "http://127.0.0.1:9" {
		t.Fatalf("BaseURL = %s", c.BaseURL())
	}
}
