package content

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

// Card is the raw record the markdown adapter parses. Accepted
// markers, each starting a block that runs until the next marker or a
// "---" separator:
//
//	Q: prompt
//	A: answer, with alternatives separated by |
//	C: context shown alongside the prompt
//	H: a hint (repeatable)
//	T: comma-separated tags
//	D: difficulty in [0,1]
type Card struct {
	Prompt     string
	Answers    []string // first entry is the primary answer
	Context    string
	Hints      []string
	Tags       []string
	Difficulty float64
}

const (
	promptPrefix     = "Q:"
	answerPrefix     = "A:"
	contextPrefix    = "C:"
	hintPrefix       = "H:"
	tagsPrefix       = "T:"
	difficultyPrefix = "D:"
)

type parseState int

const (
	seeking parseState = iota
	readingPrompt
	readingAnswer
	readingContext
	readingHint
)

// ParseFile reads a markdown file and extracts all cards.
func ParseFile(path string) ([]Card, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads from an io.Reader and extracts all cards.
func Parse(r io.Reader) ([]Card, error) {
	scanner := bufio.NewScanner(r)
	var cards []Card
	var current Card
	var block []string
	state := seeking

	flushBlock := func() {
		if len(block) == 0 {
			return
		}
		text := strings.Join(block, "\n")
		switch state {
		case readingPrompt:
			current.Prompt = text
		case readingAnswer:
			for _, a := range strings.Split(text, "|") {
				if a = strings.TrimSpace(a); a != "" {
					current.Answers = append(current.Answers, a)
				}
			}
		case readingContext:
			current.Context = text
		case readingHint:
			current.Hints = append(current.Hints, text)
		}
		block = nil
	}

	finishCard := func() {
		flushBlock()
		if current.Prompt != "" && len(current.Answers) > 0 {
			if current.Difficulty == 0 {
				current.Difficulty = 0.5
			}
			cards = append(cards, current)
		}
		current = Card{}
		state = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "---" {
			finishCard()
			continue
		}

		marker := ""
		for _, p := range []string{promptPrefix, answerPrefix, contextPrefix, hintPrefix, tagsPrefix, difficultyPrefix} {
			if strings.HasPrefix(line, p) {
				marker = p
				break
			}
		}

		if marker == "" {
			if state != seeking {
				block = append(block, line)
			}
			continue
		}

		flushBlock()
		text := strings.TrimPrefix(strings.TrimPrefix(line, marker), " ")

		switch marker {
		case promptPrefix:
			if state != seeking {
				// A new prompt always starts a new card.
				finishCard()
			}
			state = readingPrompt
			block = append(block, text)
		case answerPrefix:
			state = readingAnswer
			block = append(block, text)
		case contextPrefix:
			state = readingContext
			block = append(block, text)
		case hintPrefix:
			state = readingHint
			block = append(block, text)
		case tagsPrefix:
			for _, tag := range strings.Split(text, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					current.Tags = append(current.Tags, tag)
				}
			}
		case difficultyPrefix:
			d, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
			if err == nil && d >= 0 && d <= 1 {
				current.Difficulty = d
			}
		}
	}

	finishCard() // finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cards, nil
}

// MarkdownAdapter implements Adapter over markdown card files.
type MarkdownAdapter struct {
	contentType string
	rng         *rand.Rand
}

var _ Adapter = (*MarkdownAdapter)(nil)

// NewMarkdownAdapter returns an adapter tagging items with the given
// content type.
func NewMarkdownAdapter(contentType string) *MarkdownAdapter {
	return &MarkdownAdapter{
		contentType: contentType,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Transform converts one parsed Card into the canonical shape. The id
// is the normalized content hash, so re-parsing the same card yields
// the same item.
func (a *MarkdownAdapter) Transform(raw any) (review.ReviewableContent, error) {
	card, ok := raw.(Card)
	if !ok {
		return review.ReviewableContent{}, fmt.Errorf("markdown adapter: unsupported raw type %T", raw)
	}
	if card.Prompt == "" || len(card.Answers) == 0 {
		return review.ReviewableContent{}, fmt.Errorf("markdown adapter: card missing prompt or answer")
	}

	c := review.ReviewableContent{
		ContentType:        a.contentType,
		Primary:            card.Prompt,
		Secondary:          card.Context,
		PrimaryAnswer:      card.Answers[0],
		AlternativeAnswers: card.Answers[1:],
		Difficulty:         card.Difficulty,
		Tags:               card.Tags,
		SupportedModes:     []string{"recall", "multiple-choice"},
		Hints:              card.Hints,
	}
	c.ID = Identity(c)
	return c, nil
}

// GenerateOptions picks n distractors from the pool.
func (a *MarkdownAdapter) GenerateOptions(content review.ReviewableContent, pool []review.ReviewableContent, n int) []review.ReviewableContent {
	return GenerateOptions(a.rng, content, pool, n)
}

// LoadDir walks a directory tree, parses every .md file, and returns
// the transformed items.
func (a *MarkdownAdapter) LoadDir(dir string) ([]review.ReviewableContent, error) {
	var items []review.ReviewableContent
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		cards, err := ParseFile(path)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		for _, card := range cards {
			item, err := a.Transform(card)
			if err != nil {
				return fmt.Errorf("transforming card in %s: %w", path, err)
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
