package bayes

import (
	"sort"
	"strings"

	"github.com/forPelevin/gomoji"
)

const defaultMinTokenLen = 3

// Tokenizer normalizes raw text into counted tokens. The rule is deterministic
// and shared between training and inference, a model always classifies with
// the tokenizer it was trained with.
type Tokenizer struct {
	minTokenLen int
	excluded    map[string]struct{}
}

func newTokenizer(cfg Config) *Tokenizer {
	res := &Tokenizer{minTokenLen: cfg.MinTokenLen, excluded: make(map[string]struct{}, len(cfg.ExcludedTokens))}
	if res.minTokenLen <= 0 {
		res.minTokenLen = defaultMinTokenLen
	}
	for _, token := range cfg.ExcludedTokens {
		res.excluded[strings.ToLower(token)] = struct{}{}
	}
	return res
}

// Tokenize takes a string and returns a map where the keys are normalized
// tokens and the values are the frequencies of those tokens in the string.
// Excluded tokens and tokens shorter than the minimal length are dropped.
func (t *Tokenizer) Tokenize(inp string) map[string]int {
	tokenFrequency := make(map[string]int)
	for _, token := range strings.Fields(inp) {
		if _, ok := t.excluded[strings.ToLower(token)]; ok {
			continue
		}
		token = gomoji.RemoveEmojis(token)
		token = strings.Trim(token, `.,!?-:;()#"'`)
		token = strings.ToLower(token)
		if len([]rune(token)) < t.minTokenLen {
			continue
		}
		tokenFrequency[token]++
	}
	return tokenFrequency
}

// config reconstructs the Config the tokenizer was built from, used for model serialization
func (t *Tokenizer) config() Config {
	res := Config{MinTokenLen: t.minTokenLen}
	for token := range t.excluded {
		res.ExcludedTokens = append(res.ExcludedTokens, token)
	}
	sort.Strings(res.ExcludedTokens)
	return res
}
