package utils

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"github.com/cespare/xxhash/v2"
	color_extractor "github.com/marekm4/color-extractor"
)

// AvatarLocation derives a stable static path for a reciter avatar so
// that re-fetching the same image never produces a new file.
func AvatarLocation(image []byte, extension string) (string, string) {
	digest := fmt.Sprintf("%016x", xxhash.Sum64(image))
	location := fmt.Sprintf("/static/avatar.%s.%s", digest, extension)
	return location, digest
}

// ExtractImageContent fetches an image and pulls out its dominant colours
// so clients can theme the reciter picker without decoding anything themselves.
func ExtractImageContent(client *http.Client, imageUrl string) ([]byte, string, []string, error) {
	req, err := http.NewRequest("GET", imageUrl, nil)
	if err != nil {
		return []byte{}, "", []string{}, err
	}
	res, err := client.Do(req)
	if err != nil {
		return []byte{}, "", []string{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return []byte{}, "", []string{}, fmt.Errorf("avatar fetch returned %d", res.StatusCode)
	}

	var buf bytes.Buffer
	tee := io.TeeReader(res.Body, &buf)

	body, err := io.ReadAll(tee)
	if err != nil {
		return []byte{}, "", []string{}, err
	}

	mimeType := http.DetectContentType(body)

	extension := ""

	switch mimeType {
	case "image/jpeg":
		extension = "jpeg"
	case "image/png":
		extension = "png"
	default:
		return []byte{}, "", []string{}, fmt.Errorf("unsupported avatar content type %s", mimeType)
	}

	var domColours []string

	img, _, err := image.Decode(&buf)
	if err == nil {
		colours := color_extractor.ExtractColors(img)
		for _, c := range colours {
			domColours = append(domColours, colorToHexString(c))
		}
	}

	return body, extension, domColours, nil
}

func colorToHexString(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", uint8(r>>8), uint8(g>>8), uint8(b>>8))
}
