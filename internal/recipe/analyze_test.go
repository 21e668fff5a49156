package recipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/state"
)

func metaImage(meta string) civitai.Image {
	return civitai.Image{URL: "https://img/x.png", Meta: json.RawMessage(meta)}
}

func analysisImages() []civitai.Image {
	return []civitai.Image{
		metaImage(`{"prompt":"1girl, fox ears, <lora:fox:0.8>","negativePrompt":"lowres, blurry",
			"sampler":"DPM++ 2M Karras","cfgScale":7,"steps":30,"Size":"512x768","Model":"dreamy",
			"resources":[{"type":"lora","name":"fox","hash":"AAAA1111","weight":0.8}]}`),
		metaImage(`{"prompt":"1girl, smile","negativePrompt":"lowres","sampler":"DPM++ 2M Karras",
			"cfgScale":"5","steps":30,"Size":"512x768","Denoising strength":0,"Model":"dreamy",
			"resources":[{"type":"lora","name":"fox","hash":"aaaa1111","weight":0.6}],
			"civitaiResources":[{"type":"lora","modelVersionId":77,"weight":1}]}`),
		metaImage(`{"prompt":"fox ears","sampler":"Euler a","steps":20,"Model":"other",
			"resources":[{"type":"lora","name":"fox","hash":"aaaa1111","weight":0.8}]}`),
		metaImage(`null`),
		metaImage(`{}`),
		{URL: "https://img/bad.png", Meta: json.RawMessage(`[1,2`)},
	}
}

func TestAnalyze_Tallies(t *testing.T) {
	a := Analyze(analysisImages())
	if a.Images != 3 {
		t.Fatalf("Images = %d, want 3 (only readable recipes)", a.Images)
	}
	wantPos := []Count{{"1girl", 2}, {"fox ears", 2}, {"<lora:fox:0.8>", 1}, {"smile", 1}}
	if !reflect.DeepEqual(a.Positive, wantPos) {
		t.Errorf("Positive = %v, want %v", a.Positive, wantPos)
	}
	if want := []Count{{"lowres", 2}, {"blurry", 1}}; !reflect.DeepEqual(a.Negative, want) {
		t.Errorf("Negative = %v", a.Negative)
	}
	if want := []Count{{"DPM++ 2M Karras", 2}, {"Euler a", 1}}; !reflect.DeepEqual(a.Params["sampler"], want) {
		t.Errorf("sampler = %v", a.Params["sampler"])
	}
	if want := []Count{{"7", 1}, {"5", 1}}; !reflect.DeepEqual(a.Params["cfgScale"], want) {
		t.Errorf("cfgScale = %v", a.Params["cfgScale"])
	}
	if got := a.Params["Denoising strength"]; len(got) != 0 {
		t.Errorf("zero denoise counted: %v", got)
	}
	if want := []Count{{"dreamy", 2}, {"other", 1}}; !reflect.DeepEqual(a.Checkpoints, want) {
		t.Errorf("Checkpoints = %v", a.Checkpoints)
	}

	if len(a.LoRAs) != 2 {
		t.Fatalf("LoRAs = %+v", a.LoRAs)
	}
	fox := a.LoRAs[0]
	if fox.Key != "aaaa1111" || fox.Count != 3 || fox.Name != "fox" {
		t.Errorf("fox = %+v", fox)
	}
	if fox.Mode() != 0.8 || fmt.Sprintf("%.2f", fox.Mean()) != "0.73" {
		t.Errorf("fox weights mode %g mean %g", fox.Mode(), fox.Mean())
	}
	if v := a.LoRAs[1]; v.Key != "version:77" || v.VersionID != 77 || v.Count != 1 {
		t.Errorf("version lora = %+v", v)
	}
}

func TestAnalyze_Empty(t *testing.T) {
	a := Analyze(nil)
	if a.Images != 0 || len(a.Positive) != 0 || len(a.LoRAs) != 0 {
		t.Fatalf("empty analysis = %+v", a)
	}
	p := a.Suggested(5)
	if p.Sampler != "euler_ancestral" || p.Steps != 25 || p.CFG != 7 || p.Width != 512 || p.Denoise != 1 {
		t.Errorf("defaults = %+v", p)
	}
}

func TestAnalysis_Suggested(t *testing.T) {
	p := Analyze(analysisImages()).Suggested(2)
	if p.Sampler != "dpmpp_2m" || p.Scheduler != "karras" {
		t.Errorf("sampler = %s / %s", p.Sampler, p.Scheduler)
	}
	if p.Steps != 30 || p.CFG != 7 || p.Width != 512 || p.Height != 768 {
		t.Errorf("params = %+v", p)
	}
	if p.Checkpoint != "dreamy" || p.Prompt != "1girl, fox ears" || p.Negative != "lowres, blurry" {
		t.Errorf("prompts = %q / %q / %q", p.Checkpoint, p.Prompt, p.Negative)
	}
}

func TestFingerprint(t *testing.T) {
	q := civitai.ImageQuery{Limit: 50, Sort: "Most Reactions", NSFW: "None", FilterType: "image"}
	a := Fingerprint("ABCDEF", q)
	if len(a) != 64 || a != Fingerprint(" abcdef ", q) {
		t.Errorf("fingerprint not normalised: %s", a)
	}
	q.Limit = 20
	if Fingerprint("abcdef", q) == a {
		t.Error("limit does not change the fingerprint")
	}
}

func TestReport(t *testing.T) {
	a := Analyze(analysisImages())
	a.ModelName, a.VersionName = "Fox Style", "v2"
	a.LoRAs[0].ModelID = 12
	out := Report(a, 1, func(id int64) string { return fmt.Sprintf("https://civitai.com/models/%d", id) })
	for _, want := range []string{
		"# Recipe analysis: Fox Style • v2",
		"Based on 3 images",
		"| 1 | [fox](https://civitai.com/models/12) | 3 (100%) | 0.73 | 0.8 |",
		"| 1 | DPM++ 2M Karras | 2 (67%) |",
		"- Sampler: dpmpp_2m / karras",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "smile") {
		t.Error("report shows more than the top entries")
	}
}

func analysisServer(t *testing.T, imageHits *atomic.Int32) *civitai.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/v1/model-versions/by-hash/abcd"):
			fmt.Fprint(w, `{"id":5,"modelId":50,"name":"v1","model":{"name":"Fox Style"}}`)
		case strings.HasPrefix(r.URL.Path, "/api/v1/model-versions/by-hash/"):
			http.NotFound(w, r)
		case r.URL.Path == "/api/v1/model-versions/77":
			fmt.Fprint(w, `{"id":77,"modelId":700,"name":"v3","model":{"name":"Detail Tweaker"}}`)
		case r.URL.Path == "/api/v1/images":
			if r.URL.Query().Get("page") != "1" {
				fmt.Fprint(w, `{"items":[]}`)
				return
			}
			imageHits.Add(1)
			// The last entry's meta is not valid JSON and cannot be sent.
			ims := analysisImages()
			items, err := json.Marshal(ims[:len(ims)-1])
			if err != nil {
				t.Error(err)
			}
			fmt.Fprintf(w, `{"items":%s}`, items)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return civitai.New(nil, civitai.WithBaseURL(srv.URL), civitai.WithHTTPClient(srv.Client()),
		civitai.WithRetry(0, time.Millisecond, time.Millisecond))
}

func TestAnalyzer_CachesByFingerprint(t *testing.T) {
	var hits atomic.Int32
	client := analysisServer(t, &hits)
	db, err := state.OpenPath(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	an := NewAnalyzer(db, client, time.Hour, nil)
	q := civitai.ImageQuery{Limit: 10}

	a, err := an.Analyze(context.Background(), "abcd", q, false)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.Cached || a.Images != 3 || a.ModelName != "Fox Style" || a.ModelID != 50 {
		t.Fatalf("analysis = %+v", a)
	}
	var resolved LoRAUsage
	for _, u := range a.LoRAs {
		if u.Key == "version:77" {
			resolved = u
		}
	}
	if resolved.ModelID != 700 || resolved.Name != "Detail Tweaker" {
		t.Errorf("version lora not resolved: %+v", resolved)
	}
	if a.LoRAs[0].ModelID != 0 || a.LoRAs[0].Name != "fox" {
		t.Errorf("unknown hash changed: %+v", a.LoRAs[0])
	}

	again, err := an.Analyze(context.Background(), "ABCD", q, false)
	if err != nil || !again.Cached || again.Images != 3 {
		t.Fatalf("second analysis = %+v, %v", again, err)
	}
	if hits.Load() != 1 {
		t.Errorf("images fetched %d times, want 1", hits.Load())
	}

	if _, err := an.Analyze(context.Background(), "abcd", q, true); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("refresh did not fetch again: %d", hits.Load())
	}

	q.Sort = "Newest"
	if b, _ := an.Analyze(context.Background(), "abcd", q, false); b.Cached {
		t.Error("different query served from cache")
	}

	if err := db.ClearCache(state.CacheAnalysis); err != nil {
		t.Fatal(err)
	}
	if c, _ := an.Analyze(context.Background(), "abcd", civitai.ImageQuery{Limit: 10}, false); c.Cached {
		t.Error("cleared cache still served")
	}
}

func TestAnalyzer_Errors(t *testing.T) {
	var hits atomic.Int32
	client := analysisServer(t, &hits)
	an := NewAnalyzer(nil, client, 0, nil)
	if _, err := an.Analyze(context.Background(), "ffff", civitai.ImageQuery{}, false); err == nil {
		t.Error("expected error for unknown hash")
	}
	if _, err := NewAnalyzer(nil, nil, 0, nil).Analyze(context.Background(), "abcd", civitai.ImageQuery{}, false); err == nil {
		t.Error("expected error without client")
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "by-hash") {
			fmt.Fprint(w, `{"id":5,"modelId":50,"model":{"name":"Fox Style"}}`)
			return
		}
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer empty.Close()
	c := civitai.New(nil, civitai.WithBaseURL(empty.URL), civitai.WithHTTPClient(empty.Client()))
	_, err := NewAnalyzer(nil, c, 0, nil).Analyze(context.Background(), "abcd", civitai.ImageQuery{}, false)
	if !errors.Is(err, ErrNoRecipes) {
		t.Errorf("err = %v, want ErrNoRecipes", err)
	}
}
