package catalog

import (
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/state"
	"github.com/jxwalker/modshelf/internal/util"
)

// Gallery categories.
const (
	CategoryImage = "image"
	CategoryVideo = "video"
)

// FromLocal maps a scanned model to an Item keyed by its hash. The path key is the file's
// path below the root it was found in, so sub-folders become tree folders.
func FromLocal(v *state.Version) Item {
	key := filepath.Base(v.LocalPath)
	if v.LocalRoot != "" {
		key = util.RelativeTo(v.LocalRoot, v.LocalPath)
	}
	name := strings.TrimSuffix(filepath.Base(v.LocalPath), filepath.Ext(v.LocalPath))
	return NewItem(v.Hash, key, v.ModelType, v, name, v.ModelName, v.BaseModel)
}

// FromLocalModels maps every row with FromLocal.
func FromLocalModels(vs []*state.Version) []Item {
	out := make([]Item, 0, len(vs))
	for _, v := range vs {
		out = append(out, FromLocal(v))
	}
	return out
}

// FromImage maps a gallery image. Images have no folders; the path key is a label.
func FromImage(im civitai.Image) Item {
	var meta struct {
		Prompt string `json:"prompt"`
	}
	_ = json.Unmarshal(im.Meta, &meta)
	cat := CategoryImage
	if im.IsVideo() {
		cat = CategoryVideo
	}
	id := strconv.FormatInt(im.ID, 10)
	if im.ID == 0 {
		id = im.URL
	}
	label := id
	if im.Username != "" {
		label = im.Username + " #" + id
	}
	return NewItem(id, label, cat, im, im.Username, meta.Prompt)
}

// FromImages maps every image with FromImage.
func FromImages(ims []civitai.Image) []Item {
	out := make([]Item, 0, len(ims))
	for _, im := range ims {
		out = append(out, FromImage(im))
	}
	return out
}

// RemoteModel is the payload of a browser item.
type RemoteModel struct {
	civitai.Model
	Local bool // any file of any version is on disk
}

// FromModels maps a page of Civitai search results, marking models already present
// locally by file hash.
func FromModels(ms []civitai.Model, local map[string]bool) []Item {
	out := make([]Item, 0, len(ms))
	for _, m := range ms {
		rm := RemoteModel{Model: m}
		for _, h := range m.Hashes() {
			if local[h] {
				rm.Local = true
				break
			}
		}
		cat := civitai.CategoryForType(m.Type)
		if cat == "" {
			cat = strings.ToLower(m.Type)
		}
		parts := append([]string{m.Name, m.Creator.Username}, m.Tags...)
		out = append(out, NewItem(strconv.FormatInt(m.ID, 10), m.Name, cat, rm, parts...))
	}
	return out
}
