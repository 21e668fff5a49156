package media

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CoverExts are the sibling image extensions tried for a model's cover, in order.
var CoverExts = []string{".png", ".jpg", ".jpeg", ".webp"}

// coverKeys are the safetensors metadata keys that may carry an embedded cover.
var coverKeys = []string{"modelspec.thumbnail", "thumbnail", "image", "icon", "ssmd_cover_image"}

const maxHeaderBytes = 64 << 20

// SafetensorsMetadata returns the __metadata__ map of a .safetensors header, or nil when
// the file has none.
func SafetensorsMetadata(path string) (map[string]string, error) {
	header, err := readSafetensorsHeader(path)
	if err != nil {
		return nil, err
	}
	raw, ok := header["__metadata__"]
	if !ok {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%s: __metadata__: %w", filepath.Base(path), err)
	}
	return meta, nil
}

func readSafetensorsHeader(path string) (map[string]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var n uint64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%s: header length: %w", filepath.Base(path), err)
	}
	if n == 0 || n > maxHeaderBytes {
		return nil, fmt.Errorf("%s: implausible header length %d", filepath.Base(path), n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("%s: header: %w", filepath.Base(path), err)
	}
	var header map[string]json.RawMessage
	if err := json.Unmarshal(buf, &header); err != nil {
		return nil, fmt.Errorf("%s: header: %w", filepath.Base(path), err)
	}
	return header, nil
}

// EmbeddedCover returns the data:image URI stored in a safetensors header, looking at
// top-level string entries first and then __metadata__.
func EmbeddedCover(path string) (string, bool) {
	if !strings.EqualFold(filepath.Ext(path), ".safetensors") {
		return "", false
	}
	header, err := readSafetensorsHeader(path)
	if err != nil {
		return "", false
	}
	for _, k := range coverKeys {
		var s string
		if raw, ok := header[k]; ok && json.Unmarshal(raw, &s) == nil && strings.HasPrefix(s, "data:image") {
			return s, true
		}
	}
	var meta map[string]string
	if raw, ok := header["__metadata__"]; ok && json.Unmarshal(raw, &meta) == nil {
		for _, k := range coverKeys {
			if s := meta[k]; strings.HasPrefix(s, "data:image") {
				return s, true
			}
		}
	}
	return "", false
}

// DecodeDataURI returns the bytes and media type of a base64 data: URI.
func DecodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", errors.New("not a data uri")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errors.New("data uri without payload")
	}
	mime, isB64 := strings.CutSuffix(header, ";base64")
	if !isB64 {
		return nil, "", errors.New("data uri is not base64")
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return b, mime, nil
}

// SiblingCover finds an image next to the model with the same stem.
func SiblingCover(modelPath string) (string, bool) {
	stem := strings.TrimSuffix(modelPath, filepath.Ext(modelPath))
	for _, ext := range CoverExts {
		p := stem + ext
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, true
		}
	}
	return "", false
}

// CoverPath is where a downloaded cover for modelPath is written.
func CoverPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".png"
}

// Download fetches url into dest through a temporary file in the same directory.
func Download(ctx context.Context, client *http.Client, url, dest, userAgent string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: %s", url, resp.Status)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".modshelf-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}

// TagCount is one tag from a LoRA's training tag frequencies.
type TagCount struct {
	Tag   string
	Count int
}

// TopTags sums ss_tag_frequency over every dataset and returns the n most frequent tags.
func TopTags(meta map[string]string, n int) []TagCount {
	raw := meta["ss_tag_frequency"]
	if raw == "" {
		return nil
	}
	var sets map[string]map[string]int
	if err := json.Unmarshal([]byte(raw), &sets); err != nil {
		return nil
	}
	sum := map[string]int{}
	for _, set := range sets {
		for tag, c := range set {
			sum[strings.TrimSpace(tag)] += c
		}
	}
	out := make([]TagCount, 0, len(sum))
	for t, c := range sum {
		if t != "" {
			out = append(out, TagCount{t, c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
