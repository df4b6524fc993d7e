// Package bayes implements a naive bayes spam/ham classifier for emails.
// A Trainer fits word-frequency statistics from a labeled corpus and produces
// a Model; the model is immutable after training and classifies arbitrary
// text with log-space scoring over Laplace-smoothed conditional probabilities.
//
// The same tokenization rule is applied on training and inference: whitespace
// split, emoji removed, surrounding punctuation trimmed, lowercased, tokens
// shorter than the minimal length dropped. Counting is bag-of-words, i.e.
// every occurrence of a token in a document contributes to its count.
//
// Tokens not seen in training are skipped at inference time. As a result an
// empty or fully out-of-vocabulary input degenerates to the class priors and
// is classified as the class with more training documents. An exact score tie
// resolves to ham.
//
// A fitted Model is a pure value, safe to share between goroutines without
// synchronization as nothing mutates it after Train returns.
package bayes
