package utils

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG 디코더 등록
	_ "image/png"  // PNG 디코더 등록
	"log"
	"math"
	"mime"
	"net/http"
	"strings"

	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

const (
	MediaTypePNG  = "image/png"
	MediaTypeJPEG = "image/jpeg"
	MediaTypeWEBP = "image/webp"
)

// ConvertImageToBase64 - 이미지 바이너리를 base64로 변환
func ConvertImageToBase64(imageData []byte) string {
	base64Str := base64.StdEncoding.EncodeToString(imageData)
	log.Printf("🔄 Image converted to base64: %d chars (preview: %s...)",
		len(base64Str),
		base64Str[:min(50, len(base64Str))])
	return base64Str
}

// NormalizeMediaType - 파라미터 제거, 소문자화, image/jpg → image/jpeg
func NormalizeMediaType(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if mt == "image/jpg" || mt == "image/pjpeg" {
		mt = MediaTypeJPEG
	}
	return mt
}

// IsAcceptedImageType - 업로드 허용 타입 (PNG, JPEG, WEBP)
func IsAcceptedImageType(mediaType string) bool {
	switch NormalizeMediaType(mediaType) {
	case MediaTypePNG, MediaTypeJPEG, MediaTypeWEBP:
		return true
	}
	return false
}

// DetectImageType - 선언된 타입이 없거나 generic이면 내용으로 판별
func DetectImageType(declared string, data []byte) string {
	mt := NormalizeMediaType(declared)
	if mt != "" && mt != "application/octet-stream" {
		return mt
	}
	return NormalizeMediaType(http.DetectContentType(data))
}

// BuildPreview - 업로드 이미지의 WebP 썸네일 data URL 생성
// maxSize: 긴 변 최대 픽셀, quality: WebP 품질 (1~100)
func BuildPreview(imageData []byte, mediaType string, maxSize int, quality float32) (string, error) {
	img, err := decodeImage(imageData, mediaType)
	if err != nil {
		return "", err
	}

	thumb := FitImage(img, maxSize)

	webpData, err := EncodeWebP(thumb, quality)
	if err != nil {
		return "", err
	}

	log.Printf("🖼️  Preview built: %dx%d → %dx%d (%d bytes webp)",
		img.Bounds().Dx(), img.Bounds().Dy(), thumb.Bounds().Dx(), thumb.Bounds().Dy(), len(webpData))

	return "data:" + MediaTypeWEBP + ";base64," + base64.StdEncoding.EncodeToString(webpData), nil
}

// decodeImage - PNG/JPEG는 표준 디코더, WebP는 libwebp 디코더 사용
func decodeImage(imageData []byte, mediaType string) (image.Image, error) {
	if NormalizeMediaType(mediaType) == MediaTypeWEBP {
		img, err := webp.Decode(bytes.NewReader(imageData), &decoder.Options{})
		if err != nil {
			return nil, fmt.Errorf("failed to decode WebP: %w", err)
		}
		return img, nil
	}

	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	log.Printf("🔍 Decoded image format: %s", format)
	return img, nil
}

// EncodeWebP - 이미지를 lossy WebP로 인코딩
func EncodeWebP(img image.Image, quality float32) ([]byte, error) {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var webpBuffer bytes.Buffer
	if err := webp.Encode(&webpBuffer, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}
	return webpBuffer.Bytes(), nil
}

// FitImage - 긴 변이 maxSize 이하가 되도록 축소 (비율 유지, 확대하지 않음)
func FitImage(src image.Image, maxSize int) image.Image {
	srcBounds := src.Bounds()
	srcWidth := srcBounds.Dx()
	srcHeight := srcBounds.Dy()

	if srcWidth <= maxSize && srcHeight <= maxSize {
		return src
	}

	scale := math.Min(float64(maxSize)/float64(srcWidth), float64(maxSize)/float64(srcHeight))
	newWidth := max(1, int(float64(srcWidth)*scale))
	newHeight := max(1, int(float64(srcHeight)*scale))

	return ResizeImage(src, newWidth, newHeight)
}

// ResizeImage - Nearest Neighbor 리사이즈
func ResizeImage(src image.Image, targetWidth, targetHeight int) image.Image {
	srcBounds := src.Bounds()
	scaleX := float64(srcBounds.Dx()) / float64(targetWidth)
	scaleY := float64(srcBounds.Dy()) / float64(targetHeight)

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	for y := 0; y < targetHeight; y++ {
		for x := 0; x < targetWidth; x++ {
			srcX := srcBounds.Min.X + int(float64(x)*scaleX)
			srcY := srcBounds.Min.Y + int(float64(y)*scaleY)
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}

	return dst
}
