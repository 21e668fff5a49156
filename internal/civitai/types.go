package civitai

import (
	"encoding/json"
	"strings"
)

// ModelVersion is the /model-versions response, by id or by hash.
type ModelVersion struct {
	ID           int64    `json:"id"`
	ModelID      int64    `json:"modelId"`
	Name         string   `json:"name"`
	BaseModel    string   `json:"baseModel"`
	TrainedWords []string `json:"trainedWords"`
	DownloadURL  string   `json:"downloadUrl"`
	Model        struct {
		Name string `json:"name"`
		Type string `json:"type"`
		NSFW bool   `json:"nsfw"`
	} `json:"model"`
	Files  []File  `json:"files"`
	Images []Image `json:"images"`

	// Raw is the undecoded response body, stored as-is in the state DB.
	Raw json.RawMessage `json:"-"`
}

type File struct {
	ID       int64             `json:"id"`
	Name     string            `json:"name"`
	SizeKB   float64           `json:"sizeKB"`
	Type     string            `json:"type"`
	Primary  bool              `json:"primary"`
	Hashes   map[string]string `json:"hashes"`
	Metadata struct {
		Format string `json:"format"`
		FP     string `json:"fp"`
		Size   string `json:"size"`
	} `json:"metadata"`
}

// SHA256 returns the file's SHA256 hash in lowercase, or "".
func (f File) SHA256() string {
	for k, v := range f.Hashes {
		if strings.EqualFold(k, "SHA256") {
			return strings.ToLower(v)
		}
	}
	return ""
}

// Image is an entry of /images or of a version's preview list.
type Image struct {
	ID        int64           `json:"id"`
	URL       string          `json:"url"`
	Type      string          `json:"type"` // image | video
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	Hash      string          `json:"hash"`
	NSFW      json.RawMessage `json:"nsfw,omitempty"`
	NSFWLevel json.RawMessage `json:"nsfwLevel,omitempty"`
	Username  string          `json:"username"`
	PostID    int64           `json:"postId"`
	Stats     struct {
		LikeCount    int `json:"likeCount"`
		HeartCount   int `json:"heartCount"`
		CommentCount int `json:"commentCount"`
	} `json:"stats"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

// IsVideo reports whether the entry is a video rather than a still.
func (im Image) IsVideo() bool { return strings.EqualFold(im.Type, "video") }

// HasMeta reports whether generation metadata came with the image.
func (im Image) HasMeta() bool {
	m := strings.TrimSpace(string(im.Meta))
	return m != "" && m != "null" && m != "{}"
}

// SFW reports whether the image is rated safe. Over time the API has sent nsfw as a
// rating string ("None"), a boolean, and nsfwLevel as a number (1 is safe) or string.
func (im Image) SFW() bool {
	var s string
	var b bool
	var n int
	if len(im.NSFW) > 0 {
		if json.Unmarshal(im.NSFW, &s) == nil && s == "None" {
			return true
		}
		if json.Unmarshal(im.NSFW, &b) == nil && !b && len(im.NSFWLevel) == 0 {
			return true
		}
	}
	if len(im.NSFWLevel) > 0 {
		if json.Unmarshal(im.NSFWLevel, &n) == nil && n == 1 {
			return true
		}
		if json.Unmarshal(im.NSFWLevel, &s) == nil && s == "None" {
			return true
		}
	}
	return false
}

// FirstSFWImage returns the first safe preview of a version.
func (v *ModelVersion) FirstSFWImage() (Image, bool) {
	for _, im := range v.Images {
		if im.SFW() && !im.IsVideo() {
			return im, true
		}
	}
	return Image{}, false
}

// Hashes returns every SHA256 listed on the version's files.
func (v *ModelVersion) Hashes() []string {
	var out []string
	for _, f := range v.Files {
		if h := f.SHA256(); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// Model is an entry of /models.
type Model struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	NSFW        bool     `json:"nsfw"`
	Tags        []string `json:"tags"`
	Creator     struct {
		Username string `json:"username"`
	} `json:"creator"`
	Stats struct {
		DownloadCount int64   `json:"downloadCount"`
		FavoriteCount int64   `json:"favoriteCount"`
		ThumbsUpCount int64   `json:"thumbsUpCount"`
		CommentCount  int64   `json:"commentCount"`
		Rating        float64 `json:"rating"`
	} `json:"stats"`
	ModelVersions []ModelVersion `json:"modelVersions"`
}

// Hashes returns the SHA256 of every file of every version.
func (m *Model) Hashes() []string {
	var out []string
	for i := range m.ModelVersions {
		out = append(out, m.ModelVersions[i].Hashes()...)
	}
	return out
}

// ModelPage is one page of a model search.
type ModelPage struct {
	Items      []Model
	NextCursor string
}

type modelsResponse struct {
	Items    []Model `json:"items"`
	Metadata struct {
		NextCursor json.RawMessage `json:"nextCursor"`
	} `json:"metadata"`
}

type imagesResponse struct {
	Items []Image `json:"items"`
}

// cursor accepts nextCursor as a string or a number.
func cursor(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// Types lists the model types the /models endpoint filters on.
var Types = []string{"Checkpoint", "TextualInversion", "Hypernetwork", "LORA", "LoCon", "VAE",
	"Controlnet", "Upscaler", "MotionModule", "AestheticGradient", "DoRA", "Workflow"}

// CategoryForType maps a Civitai model type onto the local category names.
func CategoryForType(t string) string {
	switch strings.ToLower(t) {
	case "checkpoint":
		return "checkpoints"
	case "lora", "locon", "lycoris", "dora":
		return "loras"
	case "textualinversion", "textual inversion":
		return "embeddings"
	case "hypernetwork":
		return "hypernetworks"
	case "vae":
		return "vae"
	default:
		return ""
	}
}
