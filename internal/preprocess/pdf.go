package preprocess

import (
	"bytes"

	"github.com/ledongthuc/pdf"

	"github.com/flowlexi/patchvec/internal/apperr"
)

// chunkPDF emits one chunk per page. Pages whose text cannot be
// extracted still get a chunk with empty text so that page numbering
// stays aligned with the source document.
func chunkPDF(docid string, data []byte) ([]Chunk, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnsupportedMedia, err, "parsing pdf")
	}

	numPages := reader.NumPage()
	chunks := make([]Chunk, 0, numPages)
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		text := ""
		page := reader.Page(pageNum)
		if !page.V.IsNull() {
			if extracted, err := page.GetPlainText(nil); err == nil {
				text = extracted
			}
		}
		chunks = append(chunks, Chunk{
			RID:  rid(docid, pageNum),
			Text: text,
			Meta: map[string]any{
				"page": pageNum,
			},
		})
	}
	return chunks, nil
}
