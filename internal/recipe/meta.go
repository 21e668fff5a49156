// Package recipe reads the generation metadata ("recipe") attached to Civitai gallery
// images: prompts, sampler settings and the checkpoint and LoRAs that were used.
package recipe

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Meta is an image's generation metadata as Civitai returns it. Values are strings or
// numbers depending on which tool produced the image.
type Meta map[string]any

// ParseMeta decodes raw image meta. Empty and null input yield an empty Meta.
func ParseMeta(raw json.RawMessage) (Meta, error) {
	m := Meta{}
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode image meta: %w", err)
	}
	return m, nil
}

// String returns the value under key rendered as text, or "".
func (m Meta) String(key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Float parses the value under key, falling back to def.
func (m Meta) Float(key string, def float64) float64 {
	return toFloat(m[key], def)
}

func toFloat(v any, def float64) float64 {
	switch v := v.(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Int parses the value under key, falling back to def.
func (m Meta) Int(key string, def int64) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return int64(f)
		}
	}
	return def
}

var promptTag = regexp.MustCompile(`\(.+?:\d+\.\d+\)|<[^>]+>|\[[^\]]+\]|\([^)]+\)|[^,]+`)

// ParsePrompt splits a prompt into tags. Weighted groups like "(red hair:1.2)", LoRA
// calls like "<lora:fox:0.8>" and bracketed groups stay whole even when they contain
// commas.
func ParsePrompt(prompt string) []string {
	if strings.TrimSpace(prompt) == "" {
		return nil
	}
	var out []string
	for _, t := range promptTag.FindAllString(prompt, -1) {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// samplerNames maps A1111 sampler and scheduler labels to the host's identifiers.
var samplerNames = map[string]string{
	"Euler a":      "euler_ancestral",
	"Euler":        "euler",
	"LMS":          "lms",
	"Heun":         "heun",
	"DPM2":         "dpm_2",
	"DPM2 a":       "dpm_2_ancestral",
	"DPM++ 2S a":   "dpmpp_2s_ancestral",
	"DPM++ 2M":     "dpmpp_2m",
	"DPM++ SDE":    "dpmpp_sde",
	"DPM++ 2M SDE": "dpmpp_2m_sde",
	"DPM fast":     "dpm_fast",
	"DPM adaptive": "dpm_adaptive",
	"DDIM":         "ddim",
	"PLMS":         "plms",
	"UniPC":        "uni_pc",
	"normal":       "normal",
	"karras":       "karras",
	"Karras":       "karras",
	"exponential":  "exponential",
	"sgm_uniform":  "sgm_uniform",
	"simple":       "simple",
	"ddim_uniform": "ddim_uniform",
	"turbo":        "turbo",
}

// SamplerName maps a display label to the host identifier; unknown labels pass through.
func SamplerName(label string) string {
	if n, ok := samplerNames[label]; ok {
		return n
	}
	return label
}

// Params are the sampling settings of a recipe, normalised for the host.
type Params struct {
	Checkpoint string  `json:"checkpoint"`
	Prompt     string  `json:"prompt"`
	Negative   string  `json:"negative_prompt"`
	Seed       int64   `json:"seed"`
	Steps      int64   `json:"steps"`
	CFG        float64 `json:"cfg"`
	Sampler    string  `json:"sampler"`
	Scheduler  string  `json:"scheduler"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Denoise    float64 `json:"denoise"`
	ClipSkip   int64   `json:"clip_skip,omitempty"`
}

// Params extracts sampling settings with the host's defaults for anything missing.
// A sampler label ending in " Karras" is split into sampler and scheduler.
func (m Meta) Params() Params {
	sampler := m.String("sampler")
	if sampler == "" {
		sampler = "Euler a"
	}
	scheduler := m.String("scheduler")
	if scheduler == "" {
		scheduler = "normal"
	}
	if s, ok := strings.CutSuffix(sampler, " Karras"); ok {
		sampler, scheduler = s, "Karras"
	}
	w, h := 512, 512
	if size := m.String("Size"); size != "" {
		var sw, sh int
		if _, err := fmt.Sscanf(size, "%dx%d", &sw, &sh); err == nil && sw > 0 && sh > 0 {
			w, h = sw, sh
		}
	}
	clip := m.Int("Clip skip", 0)
	if clip == 0 {
		clip = m.Int("clipSkip", 0)
	}
	return Params{
		Checkpoint: m.String("Model"),
		Prompt:     m.String("prompt"),
		Negative:   m.String("negativePrompt"),
		Seed:       m.Int("seed", -1),
		Steps:      m.Int("steps", 25),
		CFG:        m.Float("cfgScale", 7),
		Sampler:    SamplerName(sampler),
		Scheduler:  SamplerName(scheduler),
		Width:      w,
		Height:     h,
		Denoise:    m.Float("Denoising strength", 1),
		ClipSkip:   clip,
	}
}

// Resource is a model referenced by a recipe.
type Resource struct {
	Name      string  `json:"name,omitempty"`
	Hash      string  `json:"hash,omitempty"` // full SHA256 or a short AutoV2 prefix
	Weight    float64 `json:"weight"`
	VersionID int64   `json:"model_version_id,omitempty"`
}

// Resources lists the checkpoint and LoRAs a recipe used.
type Resources struct {
	CheckpointName string
	CheckpointHash string
	LoRAs          []Resource
}

var addNetHash = regexp.MustCompile(`\((\w+)\)`)

// Resources collects the recipe's models from every place generators record them:
// civitaiResources, resources, hashes.lora and the AddNet extension keys. LoRAs are
// deduplicated by hash, or by name when the hash is unknown.
func (m Meta) Resources() Resources {
	r := Resources{CheckpointName: m.String("Model"), CheckpointHash: m.String("Model hash")}
	seenHash := map[string]bool{}
	seenName := map[string]bool{}
	seenVersion := map[int64]bool{}
	add := func(res Resource) {
		h := strings.ToLower(res.Hash)
		switch {
		case h != "" && seenHash[h]:
			return
		case h == "" && res.Name != "" && seenName[res.Name]:
			return
		case h == "" && res.Name == "" && res.VersionID != 0 && seenVersion[res.VersionID]:
			return
		}
		res.Hash = h
		r.LoRAs = append(r.LoRAs, res)
		if h != "" {
			seenHash[h] = true
		}
		if res.Name != "" {
			seenName[res.Name] = true
		}
		if res.VersionID != 0 {
			seenVersion[res.VersionID] = true
		}
	}

	for _, e := range objects(m["civitaiResources"]) {
		id := e.Int("modelVersionId", 0)
		if id == 0 {
			continue
		}
		switch strings.ToLower(e.String("type")) {
		case "lora", "locon", "lycoris":
			add(Resource{Name: e.String("modelVersionName"), Weight: e.Float("weight", 1), VersionID: id})
		case "checkpoint", "model":
			if r.CheckpointName == "" {
				r.CheckpointName = e.String("modelVersionName")
			}
		}
	}
	for _, e := range objects(m["resources"]) {
		switch strings.ToLower(e.String("type")) {
		case "lora", "locon", "lycoris":
			add(Resource{Name: e.String("name"), Hash: e.String("hash"), Weight: e.Float("weight", 1)})
		case "model", "checkpoint":
			if r.CheckpointHash == "" {
				r.CheckpointHash, r.CheckpointName = e.String("hash"), e.String("name")
			}
		}
	}
	if hashes, ok := m["hashes"].(map[string]any); ok {
		if loras, ok := hashes["lora"].(map[string]any); ok {
			keys := make([]string, 0, len(loras))
			for k := range loras {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				add(Resource{Hash: k, Weight: toFloat(loras[k], 1)})
			}
		}
	}
	for i := 1; i < 10; i++ {
		if m.String(fmt.Sprintf("AddNet Module %d", i)) != "LoRA" {
			continue
		}
		model := m.String(fmt.Sprintf("AddNet Model %d", i))
		match := addNetHash.FindStringSubmatch(model)
		if match == nil {
			continue
		}
		name, _, _ := strings.Cut(model, "(")
		add(Resource{
			Name:   strings.TrimSpace(name),
			Hash:   match[1],
			Weight: m.Float(fmt.Sprintf("AddNet Weight A %d", i), 1),
		})
	}
	return r
}

func objects(v any) []Meta {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []Meta
	for _, e := range list {
		if obj, ok := e.(map[string]any); ok {
			out = append(out, Meta(obj))
		}
	}
	return out
}

// Status is the outcome of matching a recipe LoRA against the local library.
type Status int

const (
	StatusUnknown Status = iota // no hash or version id to go on
	StatusFound
	StatusMissing
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Diagnosis is one recipe LoRA checked against local files.
type Diagnosis struct {
	Resource  Resource
	Status    Status
	LocalPath string
}

// Diagnose matches each LoRA against local, a map of full lowercase SHA256 to path.
// Short hashes (AutoV2 and similar) match as prefixes of the full hash.
func Diagnose(loras []Resource, local map[string]string) []Diagnosis {
	out := make([]Diagnosis, 0, len(loras))
	for _, l := range loras {
		d := Diagnosis{Resource: l}
		if p, ok := lookupHash(l.Hash, local); ok {
			d.Status, d.LocalPath = StatusFound, p
		} else if l.Hash != "" || l.VersionID != 0 {
			d.Status = StatusMissing
		}
		out = append(out, d)
	}
	return out
}

func lookupHash(h string, local map[string]string) (string, bool) {
	h = strings.ToLower(h)
	if h == "" {
		return "", false
	}
	if p, ok := local[h]; ok {
		return p, true
	}
	if len(h) < 8 {
		return "", false
	}
	for full, p := range local {
		if strings.HasPrefix(full, h) {
			return p, true
		}
	}
	return "", false
}
