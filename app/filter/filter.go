// Package filter owns the current fitted model. It trains the classifier
// from preset and user samples, retrains on updates and serves concurrent
// checks over an immutable model swapped atomically on reload.
package filter

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/umputun/mail-spam/app/storage"
	"github.com/umputun/mail-spam/lib/bayes"
)

// SampleStore is a persistent source of labeled samples, implemented by storage.Samples.
// Optional; without a store the filter keeps user samples in memory only.
type SampleStore interface {
	Add(ctx context.Context, class bayes.Class, origin storage.Origin, message string) error
	DeleteMessage(ctx context.Context, message string) error
	All(ctx context.Context) ([]bayes.Sample, error)
	Read(ctx context.Context, class bayes.Class, origin storage.Origin) ([]string, error)
}

// Filter wraps a fitted model with retraining. All checks share the same
// immutable model; reload fits a new one and swaps it under the lock.
type Filter struct {
	cfg     bayes.Config
	store   SampleStore
	presets []bayes.Sample

	lock    sync.RWMutex
	model   *bayes.Model
	dynamic map[bayes.Class][]string // user samples when no store is attached
}

// CheckResult is the outcome of a single spam check
type CheckResult struct {
	Class       bayes.Class             `json:"class"`
	Spam        bool                    `json:"spam"`
	Scores      map[bayes.Class]float64 `json:"scores"`      // per-class log-scores
	Probability float64                 `json:"probability"` // confidence of the prediction, percents
}

// New creates a filter and fits the initial model. Presets are the samples
// loaded from the corpus directory; store, if not nil, contributes persisted
// samples and receives user updates.
func New(ctx context.Context, cfg bayes.Config, presets []bayes.Sample, store SampleStore) (*Filter, error) {
	res := &Filter{
		cfg:     cfg,
		store:   store,
		presets: presets,
		dynamic: map[bayes.Class][]string{},
	}
	if err := res.Reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to make initial model: %w", err)
	}
	return res, nil
}

// Check classifies the text with the current model
func (f *Filter) Check(text string) CheckResult {
	f.lock.RLock()
	model := f.model
	f.lock.RUnlock()

	class, prob := model.Probability(text)
	return CheckResult{
		Class:       class,
		Spam:        class == bayes.Spam,
		Scores:      model.Score(text),
		Probability: prob,
	}
}

// Model returns the current fitted model
func (f *Filter) Model() *bayes.Model {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.model
}

// UpdateSpam adds a message to the spam samples and retrains
func (f *Filter) UpdateSpam(ctx context.Context, msg string) error { return f.update(ctx, bayes.Spam, msg) }

// UpdateHam adds a message to the ham samples and retrains
func (f *Filter) UpdateHam(ctx context.Context, msg string) error { return f.update(ctx, bayes.Ham, msg) }

func (f *Filter) update(ctx context.Context, class bayes.Class, msg string) error {
	cleanMsg := strings.TrimSpace(strings.ReplaceAll(msg, "\n", " "))
	if cleanMsg == "" {
		return fmt.Errorf("message can't be empty")
	}
	log.Printf("[DEBUG] update %s samples with %q", class, cleanMsg)

	if f.store != nil {
		if err := f.store.Add(ctx, class, storage.OriginUser, cleanMsg); err != nil {
			return fmt.Errorf("can't store %s sample: %w", class, err)
		}
	} else {
		f.lock.Lock()
		f.dynamic[class] = append(f.dynamic[class], cleanMsg)
		f.lock.Unlock()
	}

	if err := f.Reload(ctx); err != nil {
		return fmt.Errorf("can't retrain after %s update: %w", class, err)
	}
	return nil
}

// RemoveSample deletes a user sample by its message and retrains
func (f *Filter) RemoveSample(ctx context.Context, msg string) error {
	cleanMsg := strings.TrimSpace(strings.ReplaceAll(msg, "\n", " "))
	if cleanMsg == "" {
		return fmt.Errorf("message can't be empty")
	}

	if f.store != nil {
		if err := f.store.DeleteMessage(ctx, cleanMsg); err != nil {
			return fmt.Errorf("can't remove sample: %w", err)
		}
	} else {
		if !f.removeDynamic(cleanMsg) {
			return fmt.Errorf("sample not found")
		}
	}

	if err := f.Reload(ctx); err != nil {
		return fmt.Errorf("can't retrain after removal: %w", err)
	}
	return nil
}

func (f *Filter) removeDynamic(msg string) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	for class, msgs := range f.dynamic {
		for i, m := range msgs {
			if m == msg {
				f.dynamic[class] = append(msgs[:i], msgs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// DynamicSamples returns user-added spam and ham samples
func (f *Filter) DynamicSamples(ctx context.Context) (spam, ham []string, err error) {
	if f.store != nil {
		if spam, err = f.store.Read(ctx, bayes.Spam, storage.OriginUser); err != nil {
			return nil, nil, fmt.Errorf("can't read spam samples: %w", err)
		}
		if ham, err = f.store.Read(ctx, bayes.Ham, storage.OriginUser); err != nil {
			return nil, nil, fmt.Errorf("can't read ham samples: %w", err)
		}
		return spam, ham, nil
	}

	f.lock.RLock()
	defer f.lock.RUnlock()
	spam = append(spam, f.dynamic[bayes.Spam]...)
	ham = append(ham, f.dynamic[bayes.Ham]...)
	return spam, ham, nil
}

// SetPresets replaces the preset samples and retrains
func (f *Filter) SetPresets(ctx context.Context, presets []bayes.Sample) error {
	f.lock.Lock()
	f.presets = presets
	f.lock.Unlock()
	return f.Reload(ctx)
}

// Reload retrains the model from the full sample set and swaps it in.
// On training failure the previous model stays active.
func (f *Filter) Reload(ctx context.Context) error {
	samples, err := f.trainingSet(ctx)
	if err != nil {
		return err
	}

	model, err := bayes.NewTrainer(f.cfg).Train(samples...)
	if err != nil {
		return fmt.Errorf("failed to train: %w", err)
	}

	f.lock.Lock()
	f.model = model
	f.lock.Unlock()
	log.Printf("[INFO] model reloaded, %s", model)
	return nil
}

// trainingSet merges presets with stored or in-memory user samples
func (f *Filter) trainingSet(ctx context.Context) ([]bayes.Sample, error) {
	f.lock.RLock()
	res := make([]bayes.Sample, len(f.presets))
	copy(res, f.presets)
	f.lock.RUnlock()

	if f.store != nil {
		stored, err := f.store.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("can't read stored samples: %w", err)
		}
		return append(res, stored...), nil
	}

	f.lock.RLock()
	defer f.lock.RUnlock()
	for _, class := range []bayes.Class{bayes.Spam, bayes.Ham} {
		for _, msg := range f.dynamic[class] {
			res = append(res, bayes.Sample{Text: msg, Class: class})
		}
	}
	return res, nil
}
