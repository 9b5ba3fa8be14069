package promptforge

import (
	"fmt"
	"io"

	"google.golang.org/genai"

	"promptforge-server/modules/common/utils"
)

// EncodedImage - 요청에 inline으로 실을 이미지 (media type + 바이너리)
type EncodedImage struct {
	MediaType string
	Data      []byte
}

// EncodeImage reads the whole image into memory and tags it with its normalised
// media type. The type is not re-validated here; the upload layer already did.
func EncodeImage(r io.Reader, mediaType string) (*EncodedImage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return &EncodedImage{
		MediaType: utils.NormalizeMediaType(mediaType),
		Data:      data,
	}, nil
}

// Base64 - 표준 base64 페이로드
func (e *EncodedImage) Base64() string {
	return utils.ConvertImageToBase64(e.Data)
}

// InlinePart - inline content part. SDK가 전송 시 Data를 base64로 직렬화한다.
func (e *EncodedImage) InlinePart() *genai.Part {
	return &genai.Part{
		InlineData: &genai.Blob{MIMEType: e.MediaType, Data: e.Data},
	}
}
