package bayes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// Class is a label assigned to a document
type Class string

// the set of classes is closed, exactly two labels
const (
	Ham  Class = "ham"
	Spam Class = "spam"
)

// Valid reports whether the class is one of the known labels
func (c Class) Valid() bool { return c == Ham || c == Spam }

// Sample is a single labeled document
type Sample struct {
	Text  string `json:"text"`
	Class Class  `json:"class"`
}

// ErrInvalidTrainingData is returned by Train for a corpus it can't fit:
// empty corpus, unknown label, or a class with zero documents.
var ErrInvalidTrainingData = errors.New("invalid training data")

// Config defines tokenization parameters shared by training and inference
type Config struct {
	MinTokenLen    int      `json:"min_token_len"`             // drop tokens shorter than this many runes, default 3
	ExcludedTokens []string `json:"excluded_tokens,omitempty"` // tokens dropped before counting, case-insensitive
}

// Trainer fits models from labeled samples
type Trainer struct {
	tok *Tokenizer
}

// NewTrainer makes a trainer with the given tokenization config
func NewTrainer(cfg Config) *Trainer {
	return &Trainer{tok: newTokenizer(cfg)}
}

// Train fits a model on the given samples. Counting is bag-of-words, the
// vocabulary is the set of distinct tokens over both classes, priors are
// document frequencies and conditional probabilities get add-one smoothing:
// P(token|class) = (count(token,class)+1) / (totalWords(class)+|vocabulary|).
// Smoothing keeps every probability strictly positive, so no single unseen
// token can zero out a score.
func (t *Trainer) Train(samples ...Sample) (*Model, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty corpus", ErrInvalidTrainingData)
	}

	errs := new(multierror.Error)
	for i, s := range samples {
		if !s.Class.Valid() {
			errs = multierror.Append(errs, fmt.Errorf("sample %d: unknown class %q", i, s.Class))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrainingData, err)
	}

	docs := map[Class]int{}
	wordCounts := map[string]map[Class]int{}
	totalWords := map[Class]int{}
	for _, s := range samples {
		docs[s.Class]++
		for token, n := range t.tok.Tokenize(s.Text) {
			if _, ok := wordCounts[token]; !ok {
				wordCounts[token] = map[Class]int{}
			}
			wordCounts[token][s.Class] += n
			totalWords[s.Class] += n
		}
	}
	for _, class := range []Class{Ham, Spam} {
		if docs[class] == 0 {
			// a missing class makes its prior zero and log-scoring undefined
			return nil, fmt.Errorf("%w: no %s documents", ErrInvalidTrainingData, class)
		}
	}

	m := &Model{
		tok:      t.tok,
		priors:   make(map[Class]float64, len(docs)),
		condProb: make(map[string]map[Class]float64, len(wordCounts)),
		docs:     docs,
		nDocs:    len(samples),
	}
	for class, n := range docs {
		m.priors[class] = float64(n) / float64(len(samples))
	}
	nVocabulary := len(wordCounts)
	for token, counts := range wordCounts {
		m.condProb[token] = map[Class]float64{}
		for _, class := range []Class{Ham, Spam} {
			m.condProb[token][class] = float64(counts[class]+1) / float64(totalWords[class]+nVocabulary)
		}
	}
	return m, nil
}

// Model is a fitted classifier: class priors, smoothed conditional probability
// table and the tokenizer it was trained with. Immutable after Train, safe for
// concurrent use without locking.
type Model struct {
	tok      *Tokenizer
	priors   map[Class]float64            // P(class)
	condProb map[string]map[Class]float64 // P(token|class), keys are the vocabulary
	docs     map[Class]int
	nDocs    int
}

// Classify predicts the class of the given text. Out-of-vocabulary tokens are
// skipped, so unseen or empty input falls back to the higher-prior class.
// An exact score tie resolves to ham.
func (m *Model) Classify(text string) Class {
	scores := m.Score(text)
	if scores[Spam] > scores[Ham] {
		return Spam
	}
	return Ham
}

// Score returns per-class log-scores: log(prior) plus the sum of
// log P(token|class) over in-vocabulary tokens, each occurrence counted.
// Summing logs instead of multiplying raw probabilities avoids float
// underflow on long documents and preserves the argmax exactly.
func (m *Model) Score(text string) map[Class]float64 {
	scores := make(map[Class]float64, len(m.priors))
	for class, prior := range m.priors {
		scores[class] = math.Log(prior)
	}
	counts := m.tok.Tokenize(text)
	tokens := make([]string, 0, len(counts))
	for token := range counts {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens) // fixed summation order keeps scores bit-identical between runs
	for _, token := range tokens {
		probs, ok := m.condProb[token]
		if !ok {
			continue // out of vocabulary
		}
		for _, class := range []Class{Ham, Spam} {
			scores[class] += float64(counts[token]) * math.Log(probs[class])
		}
	}
	return scores
}

// Probability predicts the class and returns the softmax-normalized
// confidence of the prediction in percents.
func (m *Model) Probability(text string) (Class, float64) {
	class := m.Classify(text)
	probs := softmax(m.Score(text))
	return class, probs[class] * 100
}

// Priors returns a copy of the class priors
func (m *Model) Priors() map[Class]float64 {
	res := make(map[Class]float64, len(m.priors))
	for class, p := range m.priors {
		res[class] = p
	}
	return res
}

// TokenProbability returns the smoothed P(token|class) and true if the token
// is in the vocabulary
func (m *Model) TokenProbability(token string, class Class) (float64, bool) {
	probs, ok := m.condProb[token]
	if !ok {
		return 0, false
	}
	return probs[class], true
}

// Vocabulary returns the sorted list of distinct tokens seen in training
func (m *Model) Vocabulary() []string {
	res := make([]string, 0, len(m.condProb))
	for token := range m.condProb {
		res = append(res, token)
	}
	sort.Strings(res)
	return res
}

func (m *Model) String() string {
	return fmt.Sprintf("bayes model: %d documents (ham: %d, spam: %d), vocabulary: %d",
		m.nDocs, m.docs[Ham], m.docs[Spam], len(m.condProb))
}

// modelJSON is the serialized form of a fitted model, includes the tokenizer
// config so the loaded model tokenizes exactly as the one that was saved
type modelJSON struct {
	Tokenizer Config                       `json:"tokenizer"`
	Priors    map[Class]float64            `json:"priors"`
	CondProb  map[string]map[Class]float64 `json:"cond_prob"`
	Docs      map[Class]int                `json:"docs"`
	NDocs     int                          `json:"n_docs"`
}

// MarshalJSON implements json.Marshaler
func (m *Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(modelJSON{
		Tokenizer: m.tok.config(),
		Priors:    m.priors,
		CondProb:  m.condProb,
		Docs:      m.docs,
		NDocs:     m.nDocs,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Model) UnmarshalJSON(data []byte) error {
	var mj modelJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return fmt.Errorf("failed to unmarshal model: %w", err)
	}
	if len(mj.Priors) == 0 {
		return fmt.Errorf("model has no priors")
	}
	m.tok = newTokenizer(mj.Tokenizer)
	m.priors = mj.Priors
	m.condProb = mj.CondProb
	m.docs = mj.Docs
	m.nDocs = mj.NDocs
	if m.condProb == nil {
		m.condProb = map[string]map[Class]float64{}
	}
	return nil
}

// softmax converts log-scores to normalized probabilities, shifted by the
// maximum to keep exp from overflowing
func softmax(logProbs map[Class]float64) map[Class]float64 {
	if len(logProbs) == 0 {
		return nil
	}

	maxLog := math.Inf(-1)
	for _, logProb := range logProbs {
		if logProb > maxLog {
			maxLog = logProb
		}
	}

	sum := 0.0
	for _, logProb := range logProbs {
		sum += math.Exp(logProb - maxLog)
	}

	probs := make(map[Class]float64, len(logProbs))
	for class, logProb := range logProbs {
		probs[class] = math.Exp(logProb-maxLog) / sum
	}
	return probs
}
