package normalize

import "strings"

// ChunkWords splits content into chunks of at most budget words, breaking on
// paragraph boundaries where possible and on line boundaries otherwise. A
// single line longer than the budget becomes its own chunk rather than being
// split mid-line.
func ChunkWords(content string, budget int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if budget <= 0 || len(strings.Fields(content)) <= budget {
		return []string{content}
	}

	var chunks []string
	var current []string
	currentWords := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.TrimSpace(strings.Join(current, "\n")))
			current = nil
			currentWords = 0
		}
	}

	for _, line := range strings.Split(content, "\n") {
		w := len(strings.Fields(line))
		if currentWords+w > budget && currentWords > 0 {
			flush()
		}
		current = append(current, line)
		currentWords += w
	}
	flush()
	return chunks
}
