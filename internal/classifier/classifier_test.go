package classifier

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jxwalker/modshelf/internal/config"
)

func writeSafetensors(t *testing.T, path string, keys ...string) {
	t.Helper()
	header := map[string]any{"__metadata__": map[string]string{"format": "pt"}}
	for _, k := range keys {
		header[k] = map[string]any{"dtype": "F16", "shape": []int{1}, "data_offsets": []int{0, 2}}
	}
	h, _ := json.Marshal(header)
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(h)))
	buf.Write(h)
	buf.Write([]byte{0, 0})
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]string{
		"style.safetensors":   {"lora_unet_down_blocks_0.alpha"},
		"sdxl.safetensors":    {"model.diffusion_model.input_blocks.0.0.weight"},
		"decoder.safetensors": {"encoder.conv_in.weight", "decoder.conv_out.weight"},
		"ti.safetensors":      {"emb_params"},
		"mystery.safetensors": {"foo.weight"},
	}
	for name, keys := range files {
		writeSafetensors(t, filepath.Join(dir, name), keys...)
	}
	if err := os.WriteFile(filepath.Join(dir, "small.pt"), []byte("tiny"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(nil)
	tests := []struct {
		file string
		want string
	}{
		{"style.safetensors", "loras"},
		{"sdxl.safetensors", "checkpoints"},
		{"decoder.safetensors", "vae"},
		{"ti.safetensors", "embeddings"},
		{"mystery.safetensors", ""},
		{"small.pt", "embeddings"},
		{"my_lora_v2.safetensors", "loras"},
		{"sdxl_vae.safetensors", "vae"},
		{"old.ckpt", "checkpoints"},
		{"notes.txt", ""},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			if got := c.Detect(filepath.Join(dir, tt.file)); got != tt.want {
				t.Fatalf("Detect(%s) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}
}

func TestDetectCustomRuleOverrides(t *testing.T) {
	cfg := &config.Config{
		Classifier: config.ClassifierConfig{
			Rules: []config.ClassifierRule{
				{Regex: "[", Type: "vae"},
				{Regex: "^special", Type: "hypernetworks"},
			},
		},
	}
	got := New(cfg).Detect(filepath.Join(t.TempDir(), "special_lora.safetensors"))
	if got != "hypernetworks" {
		t.Fatalf("expected hypernetworks, got %s", got)
	}
}

func TestIsModelFile(t *testing.T) {
	for name, want := range map[string]bool{"a.SAFETENSORS": true, "b.ckpt": true, "c.png": false, "d": false} {
		if IsModelFile(name) != want {
			t.Errorf("IsModelFile(%s) != %v", name, want)
		}
	}
}
