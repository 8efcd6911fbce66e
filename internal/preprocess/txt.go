package preprocess

// chunkText slides a character window of params.TXTSize with
// params.TXTOverlap across the text. Each chunk records its byte offset
// and 1-based ordinal.
func chunkText(docid string, data []byte, params Params) []Chunk {
	size := params.TXTSize
	if size <= 0 {
		size = 800
	}
	overlap := params.TXTOverlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap

	text := string(data)
	runes := []rune(text)

	var chunks []Chunk
	ordinal := 0
	byteOffset := 0
	for i := 0; i < len(runes); i += step {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		ordinal++
		chunk := string(runes[i:end])
		chunks = append(chunks, Chunk{
			RID:  rid(docid, ordinal),
			Text: chunk,
			Meta: map[string]any{
				"chunk":  ordinal,
				"offset": byteOffset,
			},
		})
		byteOffset += len(string(runes[i:min(i+step, len(runes))]))
	}
	return chunks
}
