package pool

import (
	"context"

	"github.com/mattjoyce/forkpool/internal/queue"
	"github.com/mattjoyce/forkpool/internal/suite"
)

// DefaultThreshold is the job count at or below which a run stays serial.
const DefaultThreshold = 50

// ShouldParallelize reports whether jobs are worth spreading over workers.
// A threshold of zero or less always parallelizes when there is more than one worker.
func ShouldParallelize(jobs, workers, threshold int) bool {
	if workers < 2 {
		return false
	}
	return threshold <= 0 || jobs > threshold
}

// Jobs expands every method in reg into a job for reporter, class by class.
func Jobs(reg *suite.Registry, reporter suite.Reporter) []queue.Job {
	refs := reg.Methods()
	jobs := make([]queue.Job, 0, len(refs))
	for _, ref := range refs {
		jobs = append(jobs, queue.Job{Class: ref.Class, Method: ref.Method, Reporter: reporter})
	}
	return jobs
}

// RunSerial runs jobs in this process. Consecutive jobs of one class share a
// class context, as they would inside a worker.
func RunSerial(ctx context.Context, runner Runner, jobs []queue.Job) error {
	for i := 0; i < len(jobs); {
		if err := ctx.Err(); err != nil {
			return err
		}
		j := i + 1
		for j < len(jobs) && jobs[j].Class == jobs[i].Class {
			j++
		}
		batch := jobs[i:j]
		runner.WithInfoHandler(batch[0].Class, batch[0].Reporter, func() {
			for _, job := range batch {
				result := runner.RunOneMethod(job.Class, job.Method)
				job.Reporter.Synchronize(func() {
					job.Reporter.Record(result)
				})
			}
		})
		i = j
	}
	return nil
}
