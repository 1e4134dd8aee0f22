package keyword

import (
	"sort"
	"strings"
	"unicode"
)

const minTokenLen = 2

// Tokenizer turns free text into content words for the keyword fallback.
// Latin and digit runs become lowercased words; Han runs become overlapping
// bigrams, since Chinese legal text carries no word boundaries.
type Tokenizer struct {
	stopwords map[string]struct{}
	stopChars map[rune]struct{}
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{
		stopwords: defaultStopwords(),
		stopChars: defaultStopChars(),
	}
}

// Tokenize returns every content token in order of appearance, duplicates included.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	for _, word := range splitWords(text) {
		runes := []rune(word)
		if unicode.Is(unicode.Han, runes[0]) {
			tokens = append(tokens, t.bigrams(runes)...)
			continue
		}
		word = strings.ToLower(word)
		if len(runes) < minTokenLen {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

func (t *Tokenizer) bigrams(runes []rune) []string {
	if len(runes) < minTokenLen {
		return nil
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		if t.isStopChar(runes[i]) || t.isStopChar(runes[i+1]) {
			continue
		}
		gram := string(runes[i : i+2])
		if _, isStop := t.stopwords[gram]; isStop {
			continue
		}
		out = append(out, gram)
	}
	return out
}

func (t *Tokenizer) isStopChar(r rune) bool {
	_, ok := t.stopChars[r]
	return ok
}

// Keywords returns up to limit distinct tokens, most frequent first and then in
// order of appearance. limit <= 0 means no limit.
func (t *Tokenizer) Keywords(text string, limit int) []string {
	tokens := t.Tokenize(text)
	freq := make(map[string]int, len(tokens))
	uniq := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if freq[tok] == 0 {
			uniq = append(uniq, tok)
		}
		freq[tok]++
	}
	sort.SliceStable(uniq, func(a, b int) bool { return freq[uniq[a]] > freq[uniq[b]] })
	if limit > 0 && len(uniq) > limit {
		uniq = uniq[:limit]
	}
	return uniq
}

// Score is the fraction of keywords contained in text.
func Score(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// splitWords cuts text into runs of letters and digits, starting a new run
// whenever the script switches between Han and anything else.
func splitWords(text string) []string {
	var (
		words   []string
		current []rune
		han     bool
	)
	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		isHan := unicode.Is(unicode.Han, r)
		if len(current) > 0 && isHan != han {
			flush()
		}
		han = isHan
		current = append(current, r)
	}
	flush()
	return words
}
