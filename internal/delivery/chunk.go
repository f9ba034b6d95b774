package delivery

// DefaultChunkSize is the largest message the transport accepts, in runes.
const DefaultChunkSize = 4000

// Chunk splits text into consecutive runs of at most size runes. Joining the
// result reproduces text exactly.
func Chunk(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
