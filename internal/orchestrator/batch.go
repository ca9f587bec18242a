package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"finsage/internal/domain"
)

// QuestionSet is a batch of questions loaded from a YAML file.
type QuestionSet struct {
	Questions []domain.Question `yaml:"questions"`
}

// LoadQuestionSet reads and validates a question set file.
func LoadQuestionSet(path string) (*QuestionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question set: %w", err)
	}
	var qs QuestionSet
	if err := yaml.Unmarshal(data, &qs); err != nil {
		return nil, fmt.Errorf("failed to parse question set: %w", err)
	}
	if len(qs.Questions) == 0 {
		return nil, fmt.Errorf("question set %s contains no questions", path)
	}
	for i, q := range qs.Questions {
		if q.Text == "" {
			return nil, fmt.Errorf("question %d has no text", i+1)
		}
		if q.ContextRef == "" {
			return nil, fmt.Errorf("question %d (%s) has no context reference", i+1, q.ID)
		}
	}
	return &qs, nil
}

// BatchResult pairs a question with the trail its run produced. Failed
// denotes a FAILED-terminal run, not a runner error.
type BatchResult struct {
	Question domain.Question
	Trail    *domain.AuditTrail
	Failed   bool
}

// RunBatch executes every question concurrently, bounded by workers. Runs
// are independent; one failed run does not stop the rest.
func (c *Controller) RunBatch(ctx context.Context, qs *QuestionSet, workers int) ([]BatchResult, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]BatchResult, len(qs.Questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, q := range qs.Questions {
		g.Go(func() error {
			trail, err := c.Execute(gctx, q)
			if err != nil {
				return fmt.Errorf("question %s: %w", q.ID, err)
			}
			results[i] = BatchResult{
				Question: q,
				Trail:    trail,
				Failed:   trail.Run.Status == domain.RunStatusFailed,
			}
			log.Printf("run %s finished: status=%s question=%s", trail.Run.RunID, trail.Run.Status, q.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
