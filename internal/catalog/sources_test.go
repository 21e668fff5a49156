package catalog

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/state"
)

func TestFromLocal(t *testing.T) {
	root := filepath.Join("models", "loras")
	v := &state.Version{
		Hash:      "abc",
		ModelType: "loras",
		LocalRoot: root,
		LocalPath: filepath.Join(root, "style", "Fox_v2.safetensors"),
		ModelName: "Fox Ears",
		BaseModel: "SDXL 1.0",
	}
	it := FromLocal(v)
	if it.ID != "abc" || it.PathKey != "style/Fox_v2.safetensors" || it.Category != "loras" {
		t.Fatalf("item = %+v", it)
	}
	if it.SearchableText != "fox_v2 fox ears sdxl 1.0" {
		t.Errorf("search text = %q", it.SearchableText)
	}
	if it.Payload.(*state.Version) != v {
		t.Error("payload is not the row")
	}
	if it.DisplayName() != "Fox_v2.safetensors" {
		t.Errorf("display name = %q", it.DisplayName())
	}

	// Unknown root: just the file name.
	v.LocalRoot = ""
	if got := FromLocal(v).PathKey; got != "Fox_v2.safetensors" {
		t.Errorf("no-root path key = %q", got)
	}
}

func TestFromImages(t *testing.T) {
	items := FromImages([]civitai.Image{
		{ID: 7, URL: "https://x/7.jpeg", Username: "alice", Meta: json.RawMessage(`{"prompt":"Snowy Fox"}`)},
		{URL: "https://x/v.mp4", Type: "video"},
	})
	if items[0].ID != "7" || items[0].Category != CategoryImage || items[0].PathKey != "alice #7" {
		t.Errorf("image item = %+v", items[0])
	}
	if items[0].SearchableText != "alice snowy fox" {
		t.Errorf("search text = %q", items[0].SearchableText)
	}
	if items[1].ID != "https://x/v.mp4" || items[1].Category != CategoryVideo {
		t.Errorf("video item = %+v", items[1])
	}
	if got := Filter(items, "", CategoryVideo); len(got) != 1 {
		t.Errorf("video filter kept %d", len(got))
	}
}

func TestFromModels_MarksLocal(t *testing.T) {
	var m civitai.Model
	if err := json.Unmarshal([]byte(`{"id":5,"name":"Fox","type":"LORA","tags":["animal"],"creator":{"username":"bob"},
		"modelVersions":[{"id":1,"files":[{"hashes":{"SHA256":"ABC"}}]}]}`), &m); err != nil {
		t.Fatal(err)
	}
	other := civitai.Model{ID: 6, Name: "Mystery", Type: "Workflow"}

	items := FromModels([]civitai.Model{m, other}, map[string]bool{"abc": true})
	if !items[0].Payload.(RemoteModel).Local || items[1].Payload.(RemoteModel).Local {
		t.Error("local marks wrong")
	}
	if items[0].Category != "loras" || items[1].Category != "workflow" {
		t.Errorf("categories = %q %q", items[0].Category, items[1].Category)
	}
	if items[0].SearchableText != "fox bob animal" {
		t.Errorf("search text = %q", items[0].SearchableText)
	}
}
