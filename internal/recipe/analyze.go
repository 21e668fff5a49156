package recipe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jxwalker/modshelf/internal/civitai"
	friendlyerrors "github.com/jxwalker/modshelf/internal/errors"
	"github.com/jxwalker/modshelf/internal/logging"
	"github.com/jxwalker/modshelf/internal/state"
)

// ParamKeys are the meta keys whose values Analyze tallies, in report order.
var ParamKeys = []string{"sampler", "scheduler", "cfgScale", "steps", "Size", "Denoising strength"}

// Count is one tallied value.
type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// LoRAUsage is how often one LoRA appears across the analysed recipes.
type LoRAUsage struct {
	Key       string    `json:"key"` // hash, "version:<id>" or "name:<name>"
	Name      string    `json:"name,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	VersionID int64     `json:"version_id,omitempty"`
	ModelID   int64     `json:"model_id,omitempty"`
	Count     int       `json:"count"`
	Weights   []float64 `json:"weights"`
}

// Mean is the average weight the LoRA was used at.
func (u LoRAUsage) Mean() float64 {
	if len(u.Weights) == 0 {
		return 0
	}
	var sum float64
	for _, w := range u.Weights {
		sum += w
	}
	return sum / float64(len(u.Weights))
}

// Mode is the most common weight; ties go to the weight seen first.
func (u LoRAUsage) Mode() float64 {
	counts := map[float64]int{}
	best, bestN := 0.0, 0
	for _, w := range u.Weights {
		counts[w]++
		if counts[w] > bestN {
			best, bestN = w, counts[w]
		}
	}
	return best
}

// Analysis summarises the recipes of a model's community images.
type Analysis struct {
	VersionID   int64              `json:"version_id,omitempty"`
	ModelID     int64              `json:"model_id,omitempty"`
	ModelName   string             `json:"model_name,omitempty"`
	VersionName string             `json:"version_name,omitempty"`
	Images      int                `json:"total_images"`
	Positive    []Count            `json:"positive"`
	Negative    []Count            `json:"negative"`
	Params      map[string][]Count `json:"params"`
	Checkpoints []Count            `json:"checkpoints"`
	LoRAs       []LoRAUsage        `json:"loras"`

	Cached bool `json:"-"` // served from the analysis cache
}

// tally counts values and ranks them by count, keeping first-seen order on ties.
type tally struct {
	order []string
	n     map[string]int
}

func (t *tally) add(v string) {
	if t.n == nil {
		t.n = map[string]int{}
	}
	if _, ok := t.n[v]; !ok {
		t.order = append(t.order, v)
	}
	t.n[v]++
}

func (t *tally) ranked() []Count {
	out := make([]Count, 0, len(t.order))
	for _, v := range t.order {
		out = append(out, Count{Value: v, Count: t.n[v]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func loraKey(r Resource) string {
	switch {
	case r.Hash != "":
		return strings.ToLower(r.Hash)
	case r.VersionID != 0:
		return "version:" + strconv.FormatInt(r.VersionID, 10)
	default:
		return "name:" + strings.ToLower(r.Name)
	}
}

// Analyze tallies prompts, sampling parameters and resources over the images that carry
// generation metadata. Images without metadata, or with unreadable metadata, are skipped.
// Empty and zero parameter values are not counted.
func Analyze(images []civitai.Image) Analysis {
	var (
		pos, neg, ckpt tally
		params         = make(map[string]*tally, len(ParamKeys))
		loras          = map[string]*LoRAUsage{}
		loraOrder      []string
		a              Analysis
	)
	for _, k := range ParamKeys {
		params[k] = &tally{}
	}
	for _, im := range images {
		if !im.HasMeta() {
			continue
		}
		meta, err := ParseMeta(im.Meta)
		if err != nil || len(meta) == 0 {
			continue
		}
		a.Images++
		for _, t := range ParsePrompt(meta.String("prompt")) {
			pos.add(t)
		}
		for _, t := range ParsePrompt(meta.String("negativePrompt")) {
			neg.add(t)
		}
		for _, k := range ParamKeys {
			if v := meta.String(k); v != "" && v != "0" && v != "false" {
				params[k].add(v)
			}
		}
		res := meta.Resources()
		if c := joinFirst(res.CheckpointName, res.CheckpointHash); c != "" {
			ckpt.add(c)
		}
		for _, r := range res.LoRAs {
			if r.Hash == "" && r.VersionID == 0 && r.Name == "" {
				continue
			}
			k := loraKey(r)
			u, ok := loras[k]
			if !ok {
				u = &LoRAUsage{Key: k, Name: r.Name, Hash: r.Hash, VersionID: r.VersionID}
				loras[k] = u
				loraOrder = append(loraOrder, k)
			}
			if u.Name == "" {
				u.Name = r.Name
			}
			u.Count++
			u.Weights = append(u.Weights, r.Weight)
		}
	}
	a.Positive = pos.ranked()
	a.Negative = neg.ranked()
	a.Checkpoints = ckpt.ranked()
	a.Params = make(map[string][]Count, len(ParamKeys))
	for _, k := range ParamKeys {
		a.Params[k] = params[k].ranked()
	}
	a.LoRAs = make([]LoRAUsage, 0, len(loraOrder))
	for _, k := range loraOrder {
		a.LoRAs = append(a.LoRAs, *loras[k])
	}
	sort.SliceStable(a.LoRAs, func(i, j int) bool { return a.LoRAs[i].Count > a.LoRAs[j].Count })
	return a
}

func joinFirst(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Top returns the most common value under a param key, or "".
func (a Analysis) Top(key string) string {
	if c := a.Params[key]; len(c) > 0 {
		return c[0].Value
	}
	return ""
}

// Suggested turns the most common values into sampling settings, with the usual
// defaults for anything no image recorded. Prompts are the n most common tags.
func (a Analysis) Suggested(n int) Params {
	m := Meta{}
	for _, k := range ParamKeys {
		if v := a.Top(k); v != "" {
			m[k] = v
		}
	}
	if len(a.Checkpoints) > 0 {
		m["Model"] = a.Checkpoints[0].Value
	}
	p := m.Params()
	p.Prompt = joinTop(a.Positive, n)
	p.Negative = joinTop(a.Negative, n)
	return p
}

func joinTop(cs []Count, n int) string {
	vals := make([]string, 0, n)
	for i := 0; i < len(cs) && i < n; i++ {
		vals = append(vals, cs[i].Value)
	}
	return strings.Join(vals, ", ")
}

// Fingerprint identifies an analysis by the model hash and the image query behind it.
func Fingerprint(hash string, q civitai.ImageQuery) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d-%s-%s-%s",
		strings.ToLower(strings.TrimSpace(hash)), q.Limit, q.Sort, q.NSFW, q.FilterType)))
	return hex.EncodeToString(sum[:])
}

const analyzeWorkers = 4

// Analyzer fetches a model's images, analyses them and caches the result by fingerprint.
type Analyzer struct {
	db     *state.DB
	client *civitai.Client
	ttl    time.Duration
	log    *logging.Logger
}

// NewAnalyzer builds an analyzer. A nil db disables caching; ttl <= 0 never expires
// cached results.
func NewAnalyzer(db *state.DB, client *civitai.Client, ttl time.Duration, log *logging.Logger) *Analyzer {
	return &Analyzer{db: db, client: client, ttl: ttl, log: log}
}

// ErrNoRecipes is returned when none of the fetched images carry generation metadata.
var ErrNoRecipes = errors.New("no images with generation data")

// Analyze returns the analysis of the images of the version with the given file hash.
// A cached analysis younger than the TTL is returned unless refresh is set.
func (an *Analyzer) Analyze(ctx context.Context, hash string, q civitai.ImageQuery, refresh bool) (Analysis, error) {
	fp := Fingerprint(hash, q)
	if an.db != nil && !refresh {
		var cached Analysis
		ok, err := an.db.AnalysisCache(fp, an.ttl, &cached)
		if err != nil {
			an.log.Warnf("analysis cache: %v", err)
		}
		if ok {
			an.log.Debugf("analysis cache hit for %s", fp[:12])
			cached.Cached = true
			return cached, nil
		}
	}
	if an.client == nil {
		return Analysis{}, errors.New("analyze: no civitai client")
	}
	v, images, err := an.client.ImagesByHash(ctx, hash, q)
	if err != nil {
		return Analysis{}, err
	}
	a := Analyze(images)
	if a.Images == 0 {
		return Analysis{}, fmt.Errorf("analyze %s: %w", v.Model.Name, ErrNoRecipes)
	}
	a.VersionID, a.ModelID, a.ModelName, a.VersionName = v.ID, v.ModelID, v.Model.Name, v.Name
	if err := an.resolve(ctx, a.LoRAs); err != nil {
		return Analysis{}, err
	}
	if an.db != nil {
		if err := an.db.SetAnalysisCache(fp, a); err != nil {
			an.log.Warnf("store analysis: %v", err)
		}
	}
	an.log.Infof("analysed %d recipes of %s", a.Images, a.ModelName)
	return a, nil
}

// resolve fills in model ids and names of LoRAs from Civitai. Lookups that fail leave
// the entry as the recipes described it.
func (an *Analyzer) resolve(ctx context.Context, loras []LoRAUsage) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(analyzeWorkers)
	for i := range loras {
		u := loras[i]
		if u.ModelID != 0 || (u.VersionID == 0 && u.Hash == "") {
			continue
		}
		g.Go(func() error {
			var (
				v   *civitai.ModelVersion
				err error
			)
			if u.VersionID != 0 {
				v, err = an.client.VersionByID(gctx, u.VersionID)
			} else {
				v, err = an.client.VersionByHash(gctx, u.Hash)
			}
			switch {
			case err == nil:
			case gctx.Err() != nil:
				return gctx.Err()
			case errors.Is(err, friendlyerrors.ErrNotFound):
				return nil
			default:
				an.log.Debugf("resolve lora %s: %v", u.Key, err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			loras[i].ModelID, loras[i].VersionID = v.ModelID, v.ID
			if v.Model.Name != "" {
				loras[i].Name = v.Model.Name
			}
			return nil
		})
	}
	return g.Wait()
}

// Report renders an analysis as Markdown, listing top entries per section. modelURL
// links resolved LoRAs to their model page when non-nil.
func Report(a Analysis, top int, modelURL func(int64) string) string {
	if top <= 0 {
		top = 10
	}
	var sb strings.Builder
	title := a.ModelName
	if a.VersionName != "" {
		title = joinFirst(title, "model") + " • " + a.VersionName
	}
	fmt.Fprintf(&sb, "# Recipe analysis: %s\n\n", joinFirst(title, "model"))
	fmt.Fprintf(&sb, "Based on %d images with generation data.\n", a.Images)

	pct := func(n int) string {
		if a.Images == 0 {
			return "0%"
		}
		return fmt.Sprintf("%.0f%%", float64(n)*100/float64(a.Images))
	}
	table := func(head string, cs []Count) {
		fmt.Fprintf(&sb, "\n## %s\n\n", head)
		if len(cs) == 0 {
			sb.WriteString("_none recorded_\n")
			return
		}
		sb.WriteString("| # | Value | Count |\n|---|---|---|\n")
		for i := 0; i < len(cs) && i < top; i++ {
			fmt.Fprintf(&sb, "| %d | %s | %d (%s) |\n", i+1, mdEscape(cs[i].Value), cs[i].Count, pct(cs[i].Count))
		}
	}

	fmt.Fprintf(&sb, "\n## LoRAs\n\n")
	if len(a.LoRAs) == 0 {
		sb.WriteString("_none recorded_\n")
	} else {
		sb.WriteString("| # | LoRA | Used | Avg weight | Common weight |\n|---|---|---|---|---|\n")
		for i := 0; i < len(a.LoRAs) && i < top; i++ {
			u := a.LoRAs[i]
			name := mdEscape(joinFirst(u.Name, u.Key))
			if u.ModelID != 0 && modelURL != nil {
				name = fmt.Sprintf("[%s](%s)", name, modelURL(u.ModelID))
			}
			fmt.Fprintf(&sb, "| %d | %s | %d (%s) | %.2f | %g |\n", i+1, name, u.Count, pct(u.Count), u.Mean(), u.Mode())
		}
	}
	table("Checkpoints", a.Checkpoints)
	for _, k := range ParamKeys {
		table(k, a.Params[k])
	}
	table("Positive tags", a.Positive)
	table("Negative tags", a.Negative)

	p := a.Suggested(top)
	sb.WriteString("\n## Suggested settings\n\n")
	fmt.Fprintf(&sb, "- Sampler: %s / %s\n- Steps: %d\n- CFG: %g\n- Size: %dx%d\n- Denoise: %g\n",
		p.Sampler, p.Scheduler, p.Steps, p.CFG, p.Width, p.Height, p.Denoise)
	return sb.String()
}

func mdEscape(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}
