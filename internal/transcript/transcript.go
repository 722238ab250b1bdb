package transcript

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ChainThink/internal/session"
)

const (
	// Extension is appended to every transcript file name
	Extension = ".md"

	nameLimit = 20
)

var (
	stepHeading = regexp.MustCompile(`^Step (\d+): (.*)$`)
	timingLine  = regexp.MustCompile(`^\(Thinking time: (\d+(?:\.\d+)?) seconds\)$`)
)

// FileName derives the transcript file name from the prompt: its first 20
// characters, spaces as underscores and path separators as hyphens.
func FileName(prompt string) string {
	runes := []rune(prompt)
	if len(runes) > nameLimit {
		runes = runes[:nameLimit]
	}
	name := string(runes) + Extension
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, `\`, "-")
	return name
}

// Render writes the markdown transcript
func Render(w io.Writer, prompt string, steps []session.Step) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "# Problem: %s\n\n", prompt); err != nil {
		return err
	}
	for _, step := range steps {
		if _, err := fmt.Fprintf(bw, "## %s\n\n%s\n\n(Thinking time: %.2f seconds)\n\n",
			step.Heading(), step.Content, step.Elapsed.Seconds()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Writer saves transcripts into a directory
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates a Writer for dir; an empty dir means the working directory
func NewWriter(dir string, logger *slog.Logger) *Writer {
	if dir == "" {
		dir = "."
	}
	return &Writer{dir: dir, logger: logger}
}

// Write saves the transcript and returns the file path
func (w *Writer) Write(prompt string, steps []session.Step) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(w.dir, FileName(prompt))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create transcript: %w", err)
	}

	if err := Render(file, prompt, steps); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close transcript: %w", err)
	}

	if w.logger != nil {
		w.logger.Info("transcript saved", "path", path, "steps", len(steps))
	}
	return path, nil
}

// Document is a transcript read back from disk
type Document struct {
	Prompt string
	Steps  []session.Step
}

// Parse reads a transcript produced by Render. A timing line closes a step only
// when the next non-blank line is a heading or the end of the file, so content
// quoting a timing line survives.
func Parse(r io.Reader) (*Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty transcript")
	}
	if !strings.HasPrefix(lines[0], "# Problem: ") {
		return nil, fmt.Errorf("missing problem heading")
	}

	doc := &Document{}
	promptLines := []string{strings.TrimPrefix(lines[0], "# Problem: ")}

	var (
		current *session.Step
		body    []string
		inStep  bool
	)

	for i := 1; i < len(lines); i++ {
		line := lines[i]

		if !inStep {
			if heading, ok := strings.CutPrefix(line, "## "); ok {
				step := parseHeading(heading)
				current = &step
				body = nil
				inStep = true
				continue
			}
			if current == nil {
				promptLines = append(promptLines, line)
				continue
			}
			if line != "" {
				return nil, fmt.Errorf("unexpected line %d after step %q", i+1, current.Heading())
			}
			continue
		}

		if m := timingLine.FindStringSubmatch(line); m != nil && closesStep(lines, i) {
			secs, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid thinking time %q: %w", m[1], err)
			}
			current.Elapsed = time.Duration(secs * float64(time.Second))
			current.Content = joinBody(body)
			doc.Steps = append(doc.Steps, *current)
			inStep = false
			continue
		}
		body = append(body, line)
	}
	if inStep {
		return nil, fmt.Errorf("step %q has no thinking time", current.Heading())
	}

	doc.Prompt = joinPrompt(promptLines)
	return doc, nil
}

// closesStep reports whether the timing line at i is followed by the blank
// separator and then a heading or the end of the file
func closesStep(lines []string, i int) bool {
	next := i + 1
	if next < len(lines) && lines[next] == "" {
		next++
	}
	return next == len(lines) || strings.HasPrefix(lines[next], "## ")
}

func parseHeading(heading string) session.Step {
	if heading == session.FinalAnswerTitle {
		return session.Step{Title: session.FinalAnswerTitle, Final: true}
	}
	if m := stepHeading.FindStringSubmatch(heading); m != nil {
		index, _ := strconv.Atoi(m[1])
		return session.Step{Index: index, Title: m[2]}
	}
	return session.Step{Title: heading}
}

// joinBody drops the blank line Render puts on each side of the content
func joinBody(lines []string) string {
	if len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func joinPrompt(lines []string) string {
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
