package bayes

import "fmt"

// Result is the outcome of evaluating a model against a labeled set
type Result struct {
	Total     int
	Correct   int
	Confusion map[Class]map[Class]int // actual class -> predicted class -> count
}

// Accuracy returns the fraction of correctly classified samples, 0 for an empty set
func (r Result) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

func (r Result) String() string {
	return fmt.Sprintf("accuracy: %.4f (%d of %d), spam as ham: %d, ham as spam: %d",
		r.Accuracy(), r.Correct, r.Total, r.Confusion[Spam][Ham], r.Confusion[Ham][Spam])
}

// Evaluate classifies every sample with the model and counts hits and misses per class
func Evaluate(m *Model, samples []Sample) Result {
	res := Result{Confusion: map[Class]map[Class]int{Ham: {}, Spam: {}}}
	for _, s := range samples {
		predicted := m.Classify(s.Text)
		res.Total++
		res.Confusion[s.Class][predicted]++
		if predicted == s.Class {
			res.Correct++
		}
	}
	return res
}
