package corpus

import (
	"bufio"
	"io"
	"iter"
	"log"
	"strings"

	"github.com/umputun/mail-spam/lib/bayes"
)

// Lines parses readers and returns an iterator of data elements, one trimmed
// non-empty line per element.
func Lines(readers ...io.Reader) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, reader := range readers {
			scanner := bufio.NewScanner(reader)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // emails can be long lines
			for scanner.Scan() {
				line := scanner.Text()
				cleanLine := strings.Trim(line, " \n\r\t")
				if cleanLine == "" {
					continue
				}
				if !yield(cleanLine) {
					return
				}
			}
			if err := scanner.Err(); err != nil {
				log.Printf("[WARN] failed to read lines, error=%v", err)
			}
		}
	}
}

// ReadSamples reads one labeled sample per non-empty line
func ReadSamples(r io.Reader, class bayes.Class) []bayes.Sample {
	var res []bayes.Sample
	for line := range Lines(r) {
		res = append(res, bayes.Sample{Text: line, Class: class})
	}
	return res
}

// ReadLines collects all non-empty lines, used for excluded-tokens files
func ReadLines(r io.Reader) []string {
	var res []string
	for line := range Lines(r) {
		res = append(res, line)
	}
	return res
}
