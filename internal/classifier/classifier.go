// Package classifier guesses the model category of a file found outside the typed roots.
package classifier

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jxwalker/modshelf/internal/config"
)

// ModelExts are the file extensions treated as model weights.
var ModelExts = []string{".safetensors", ".ckpt", ".pt", ".pth", ".bin", ".sft"}

// IsModelFile reports whether path has a model extension.
func IsModelFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ModelExts {
		if ext == e {
			return true
		}
	}
	return false
}

// Classifier holds compiled custom rules.
type Classifier struct {
	rules []rule
}

type rule struct {
	re  *regexp.Regexp
	typ string
}

// New compiles cfg's classifier rules. Invalid patterns are skipped; config validation
// reports them.
func New(cfg *config.Config) *Classifier {
	c := &Classifier{}
	if cfg == nil {
		return c
	}
	for _, r := range cfg.Classifier.Rules {
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			continue
		}
		c.rules = append(c.rules, rule{re: re, typ: r.Type})
	}
	return c
}

// Detect returns the category for filePath, or "" when it cannot tell. Custom rules are
// consulted first, then the file name, then the safetensors tensor names.
func (c *Classifier) Detect(filePath string) string {
	name := strings.ToLower(filepath.Base(filePath))
	for _, r := range c.rules {
		if r.re.MatchString(name) {
			return r.typ
		}
	}
	if !IsModelFile(name) {
		return ""
	}
	if t := byName(name); t != "" {
		return t
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".safetensors", ".sft":
		return byTensors(filePath)
	case ".pt", ".bin":
		// Textual inversions are tiny pickles.
		if st, err := os.Stat(filePath); err == nil && st.Size() < 1<<20 {
			return "embeddings"
		}
	case ".ckpt":
		return "checkpoints"
	}
	return ""
}

func byName(name string) string {
	switch {
	case strings.Contains(name, "lora") || strings.Contains(name, "lycoris") || strings.Contains(name, "locon"):
		return "loras"
	case strings.Contains(name, "vae"):
		return "vae"
	case strings.Contains(name, "hypernet"):
		return "hypernetworks"
	case strings.Contains(name, "embedding") || strings.Contains(name, "textual_inversion"):
		return "embeddings"
	}
	return ""
}

// byTensors inspects the safetensors header for tell-tale tensor names.
func byTensors(p string) string {
	f, err := os.Open(p)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, 8)
	if _, err := io.ReadFull(f, buf); err != nil {
		return ""
	}
	headerLen := binary.LittleEndian.Uint64(buf)
	if headerLen == 0 || headerLen > 64<<20 {
		return ""
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(f, header); err != nil {
		return ""
	}
	var tensors map[string]json.RawMessage
	if err := json.Unmarshal(header, &tensors); err != nil {
		return ""
	}
	var enc, dec bool
	for k := range tensors {
		switch {
		case strings.HasPrefix(k, "lora_") || strings.Contains(k, ".lora_down.") || strings.Contains(k, ".lora_A."):
			return "loras"
		case k == "emb_params" || k == "string_to_param" || (strings.HasPrefix(k, "clip_l") && len(tensors) <= 3):
			return "embeddings"
		case strings.HasPrefix(k, "model.diffusion_model.") || strings.HasPrefix(k, "double_blocks."):
			return "checkpoints"
		case strings.HasPrefix(k, "encoder.") || strings.HasPrefix(k, "first_stage_model.encoder."):
			enc = true
		case strings.HasPrefix(k, "decoder.") || strings.HasPrefix(k, "first_stage_model.decoder."):
			dec = true
		}
	}
	if enc && dec {
		return "vae"
	}
	return ""
}
