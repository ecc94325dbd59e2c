package provider

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
)

const maxImageBytes = 5 << 20

// image is a media reference resolved for a model request. Remote references
// keep URL set; local files are inlined as base64.
type image struct {
	URL       string
	MediaType string
	Data      string
}

func (i image) dataURL() string {
	if i.URL != "" {
		return i.URL
	}
	return "data:" + i.MediaType + ";base64," + i.Data
}

// loadImage resolves an http(s) or data URL as is, and reads a local path.
func loadImage(ref string) (image, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "data:") {
		return image{URL: ref}, nil
	}
	info, err := os.Stat(ref)
	if err != nil {
		return image{}, fmt.Errorf("media %s: %w", ref, err)
	}
	if info.Size() > maxImageBytes {
		return image{}, fmt.Errorf("media %s: %d bytes exceeds limit", ref, info.Size())
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return image{}, fmt.Errorf("media %s: %w", ref, err)
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return image{}, fmt.Errorf("media %s: unsupported type %s", ref, mediaType)
	}
	return image{MediaType: mediaType, Data: base64.StdEncoding.EncodeToString(data)}, nil
}
