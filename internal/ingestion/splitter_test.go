package ingestion

import (
	"strings"
	"testing"

	"docchat/internal/repository"
)

func TestNewSplitter_Defaults(t *testing.T) {
	s := NewSplitter(SplitterConfig{})

	if s.config.TextChunkSize != 1000 {
		t.Errorf("expected default TextChunkSize 1000, got %d", s.config.TextChunkSize)
	}
	if s.config.TextOverlap != 200 {
		t.Errorf("expected default TextOverlap 200, got %d", s.config.TextOverlap)
	}
	if s.config.TableChunkSize != 600 {
		t.Errorf("expected default TableChunkSize 600, got %d", s.config.TableChunkSize)
	}
	if s.config.TableOverlap != 50 {
		t.Errorf("expected default TableOverlap 50, got %d", s.config.TableOverlap)
	}
}

func TestSplit_EmptyContent(t *testing.T) {
	s := NewSplitter(SplitterConfig{})

	if chunks := s.Split(repository.Document{Content: "", Modality: repository.ModalityText}); chunks != nil {
		t.Errorf("expected nil for empty content, got %v", chunks)
	}
	if chunks := s.Split(repository.Document{Content: "  \n ", Modality: repository.ModalityText}); chunks != nil {
		t.Errorf("expected nil for whitespace content, got %v", chunks)
	}
}

func TestSplit_ImagePassesThrough(t *testing.T) {
	s := NewSplitter(SplitterConfig{TextChunkSize: 10})

	doc := repository.Document{
		Content:  strings.Repeat("image-reference ", 20),
		Source:   "paper.pdf",
		Modality: repository.ModalityImage,
		Caption:  "training loss curve",
		Page:     4,
	}

	chunks := s.Split(doc)
	if len(chunks) != 1 {
		t.Fatalf("images must not be split, got %d chunks", len(chunks))
	}
	if chunks[0].Caption != "training loss curve" || chunks[0].Page != 4 {
		t.Error("image chunk should keep caption and page")
	}
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	s := NewSplitter(SplitterConfig{})

	chunks := s.Split(repository.Document{
		Content:  "The model uses a dropout rate of 0.1.",
		Source:   "paper.pdf",
		Modality: repository.ModalityText,
	})

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != "The model uses a dropout rate of 0.1." {
		t.Errorf("unexpected chunk content %q", chunks[0].Content)
	}
	if chunks[0].Source != "paper.pdf" || chunks[0].Modality != repository.ModalityText {
		t.Error("chunk should inherit source and modality")
	}
}

func TestSplit_LongTextRespectsBudgetAndOverlaps(t *testing.T) {
	s := NewSplitter(SplitterConfig{TextChunkSize: 100, TextOverlap: 20})

	var sb strings.Builder
	for i := 0; i < 12; i++ {
		sb.WriteString("this paragraph talks about attention heads and layers\n\n")
	}

	chunks := s.Split(repository.Document{
		Content:  sb.String(),
		Source:   "paper.pdf",
		Modality: repository.ModalityText,
	})

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		// Budget plus the carried overlap prefix.
		if len(chunk.Content) > 100+20+10 {
			t.Errorf("chunk %d exceeds budget: %d chars", i, len(chunk.Content))
		}
		if chunk.ID != "" {
			t.Errorf("chunk %d should leave the ID for the index to assign", i)
		}
	}

	// Each chunk after the first starts with the tail of its predecessor.
	firstLine, _, ok := strings.Cut(chunks[1].Content, "\n")
	if !ok || !strings.HasSuffix(chunks[0].Content, firstLine) {
		t.Errorf("chunk 1 should start with overlap from chunk 0, got %q", firstLine)
	}
}

func TestSplit_OversizedParagraphIsCutOnWords(t *testing.T) {
	s := NewSplitter(SplitterConfig{TextChunkSize: 50, TextOverlap: 10})

	content := strings.TrimSpace(strings.Repeat("attention ", 30))
	chunks := s.Split(repository.Document{Content: content, Modality: repository.ModalityText})

	if len(chunks) < 2 {
		t.Fatalf("expected the paragraph to be cut, got %d chunks", len(chunks))
	}
	for i, chunk := range chunks {
		for _, word := range strings.Fields(chunk.Content) {
			if word != "attention" {
				t.Errorf("chunk %d broke a word: %q", i, word)
			}
		}
	}
}

func TestSplit_TableRepeatsHeader(t *testing.T) {
	s := NewSplitter(SplitterConfig{TableChunkSize: 80, TableOverlap: 0})

	var sb strings.Builder
	sb.WriteString("| layer | params |\n")
	sb.WriteString("|-------|--------|\n")
	for i := 0; i < 10; i++ {
		sb.WriteString("| encoder | 1000000 |\n")
	}

	chunks := s.Split(repository.Document{
		Content:  sb.String(),
		Source:   "paper.pdf",
		Modality: repository.ModalityTable,
	})

	if len(chunks) < 2 {
		t.Fatalf("expected the table to be split, got %d chunks", len(chunks))
	}
	for i, chunk := range chunks {
		if !strings.HasPrefix(chunk.Content, "| layer | params |") {
			t.Errorf("chunk %d is missing the table header: %q", i, chunk.Content)
		}
		if !strings.Contains(chunk.Content, "|-------|") {
			t.Errorf("chunk %d is missing the separator row", i)
		}
	}
}

func TestIsSeparatorRow(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"plain separator", "|---|---|", true},
		{"aligned separator", "| :--- | ---: |", true},
		{"data row", "| encoder | 1000000 |", false},
		{"empty", "", false},
		{"pipes only", "|||", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSeparatorRow(tt.input); got != tt.expected {
				t.Errorf("isSeparatorRow(%q) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}
}
