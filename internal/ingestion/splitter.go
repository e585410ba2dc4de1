// Package ingestion turns extracted document content into index-ready pieces.
//
// Splitting is modality-aware: prose is packed paragraph by paragraph with a
// character overlap between neighbouring chunks, tables are split row-wise
// with their header repeated on every chunk, and images pass through intact
// since their searchable text is the caption.
package ingestion

import (
	"strings"

	"docchat/internal/repository"
)

// SplitterConfig holds the per-modality chunk budgets, in characters.
type SplitterConfig struct {
	TextChunkSize  int
	TextOverlap    int
	TableChunkSize int
	TableOverlap   int
}

// Splitter splits documents before ingestion.
type Splitter struct {
	config SplitterConfig
}

// NewSplitter creates a splitter, applying defaults for unset budgets.
func NewSplitter(config SplitterConfig) *Splitter {
	if config.TextChunkSize <= 0 {
		config.TextChunkSize = 1000
	}
	if config.TextOverlap < 0 || config.TextOverlap >= config.TextChunkSize {
		config.TextOverlap = 200
	}
	if config.TableChunkSize <= 0 {
		config.TableChunkSize = 600
	}
	if config.TableOverlap < 0 || config.TableOverlap >= config.TableChunkSize {
		config.TableOverlap = 50
	}

	return &Splitter{config: config}
}

// Split breaks one extracted document into chunk documents. Every chunk
// inherits the source, modality, caption, and page of its parent; IDs are
// left empty for the index to assign. Empty content yields nil.
func (s *Splitter) Split(doc repository.Document) []repository.Document {
	content := strings.TrimSpace(doc.Content)
	if content == "" {
		return nil
	}

	var pieces []string
	switch doc.Modality {
	case repository.ModalityImage:
		pieces = []string{content}
	case repository.ModalityTable:
		pieces = splitTable(content, s.config.TableChunkSize, s.config.TableOverlap)
	default:
		pieces = splitText(content, s.config.TextChunkSize, s.config.TextOverlap)
	}

	chunks := make([]repository.Document, 0, len(pieces))
	for _, piece := range pieces {
		chunk := doc
		chunk.ID = ""
		chunk.Embedding = nil
		chunk.Content = piece
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitText packs paragraphs into chunks of at most size characters. A
// paragraph larger than the budget is cut on word boundaries. Each chunk
// after the first is prefixed with the tail of its predecessor for context.
func splitText(content string, size, overlap int) []string {
	var pieces []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		pieces = append(pieces, strings.TrimSpace(current.String()))
		current.Reset()
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > size {
			flush()
			pieces = append(pieces, splitWords(para, size, overlap)...)
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return addOverlap(pieces, overlap)
}

// splitWords cuts an oversized run of text into word-aligned windows with the
// given character overlap between consecutive windows.
func splitWords(text string, size, overlap int) []string {
	words := strings.Fields(text)

	var pieces []string
	var window []string
	windowLen := 0

	for _, word := range words {
		if windowLen > 0 && windowLen+len(word)+1 > size {
			pieces = append(pieces, strings.Join(window, " "))

			// Keep trailing words up to the overlap budget.
			kept := 0
			var tail []string
			for i := len(window) - 1; i >= 0 && kept < overlap; i-- {
				kept += len(window[i]) + 1
				tail = append([]string{window[i]}, tail...)
			}
			window = tail
			windowLen = kept
		}
		window = append(window, word)
		windowLen += len(word) + 1
	}
	if len(window) > 0 {
		pieces = append(pieces, strings.Join(window, " "))
	}
	return pieces
}

// addOverlap prefixes each chunk with the word-aligned tail of the previous
// chunk.
func addOverlap(pieces []string, overlap int) []string {
	if overlap <= 0 || len(pieces) <= 1 {
		return pieces
	}

	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		prevWords := strings.Fields(pieces[i-1])
		kept := 0
		var tail []string
		for j := len(prevWords) - 1; j >= 0 && kept < overlap; j-- {
			kept += len(prevWords[j]) + 1
			tail = append([]string{prevWords[j]}, tail...)
		}
		if len(tail) > 0 {
			out[i] = strings.Join(tail, " ") + "\n" + pieces[i]
		} else {
			out[i] = pieces[i]
		}
	}
	return out
}

// splitTable groups table rows into chunks of at most size characters and
// repeats the header rows on every chunk so each piece stays readable on its
// own.
func splitTable(content string, size, overlap int) []string {
	lines := strings.Split(content, "\n")

	header := tableHeader(lines)
	body := lines[len(header):]
	if len(body) == 0 {
		return []string{strings.TrimSpace(content)}
	}

	headerText := strings.Join(header, "\n")

	var pieces []string
	var rows []string
	rowsLen := 0

	flush := func() {
		if len(rows) == 0 {
			return
		}
		piece := strings.Join(rows, "\n")
		if headerText != "" {
			piece = headerText + "\n" + piece
		}
		pieces = append(pieces, piece)

		// Carry trailing rows into the next chunk.
		kept := 0
		var tail []string
		for i := len(rows) - 1; i >= 0 && kept < overlap; i-- {
			kept += len(rows[i]) + 1
			tail = append([]string{rows[i]}, tail...)
		}
		rows = tail
		rowsLen = kept
	}

	for _, line := range body {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rowsLen > 0 && rowsLen+len(line)+1 > size {
			flush()
		}
		rows = append(rows, line)
		rowsLen += len(line) + 1
	}
	if len(rows) > 0 {
		piece := strings.Join(rows, "\n")
		if headerText != "" {
			piece = headerText + "\n" + piece
		}
		pieces = append(pieces, piece)
	}

	return pieces
}

// tableHeader returns the leading header rows of a markdown-style table: the
// first row plus its |---| separator when present.
func tableHeader(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	header := lines[:1]
	if len(lines) > 1 && isSeparatorRow(lines[1]) {
		header = lines[:2]
	}
	return header
}

func isSeparatorRow(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, r := range line {
		switch r {
		case '|', '-', ':', ' ':
		default:
			return false
		}
	}
	return strings.Contains(line, "-")
}
