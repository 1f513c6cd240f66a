package vision

import (
	"encoding/base64"
	"net/http"
	"strings"

	"snapsight/internal/domain"
)

const (
	dataURLPrefix      = "data:"
	imageDataURLPrefix = "data:image/"
	defaultImageMIME   = "image/jpeg"
)

// NormalizeImageRef turns an inbound image reference into a data URL the
// vision provider accepts. Image data URLs pass through unchanged and any
// other data URL is rejected. Bare base64, padded or not, is validated,
// padded and prefixed with the JPEG media type.
func NormalizeImageRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", domain.NewSubSystemError("proxy", "NormalizeImageRef", domain.ErrProxyInput, "imageData is empty")
	}
	if strings.HasPrefix(ref, dataURLPrefix) {
		if !strings.HasPrefix(strings.ToLower(ref), imageDataURLPrefix) {
			return "", domain.NewSubSystemError("proxy", "NormalizeImageRef", domain.ErrProxyInput, "data URL is not an image")
		}
		return ref, nil
	}

	compact := strings.Join(strings.Fields(ref), "")
	if _, err := base64.StdEncoding.DecodeString(compact); err != nil {
		if _, err := base64.RawStdEncoding.DecodeString(compact); err != nil {
			return "", domain.NewSubSystemError("proxy", "NormalizeImageRef", domain.ErrProxyInput, "imageData is neither a data URL nor valid base64")
		}
		compact += strings.Repeat("=", (4-len(compact)%4)%4)
	}
	return dataURLPrefix + defaultImageMIME + ";base64," + compact, nil
}

// ImageRefFromBytes encodes raw upload bytes as a data URL. The declared
// media type is used when it names an image, otherwise the type is sniffed.
func ImageRefFromBytes(data []byte, declared string) (string, error) {
	if len(data) == 0 {
		return "", domain.NewSubSystemError("proxy", "ImageRefFromBytes", domain.ErrProxyInput, "image file is empty")
	}
	mime := imageMIME(data, declared)
	return dataURLPrefix + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func imageMIME(data []byte, declared string) string {
	if mt, _, _ := strings.Cut(declared, ";"); strings.HasPrefix(mt, "image/") {
		return strings.TrimSpace(mt)
	}
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return defaultImageMIME
}
