package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-core/engine/core"
)

/**
 * @brief A unit of work for the job system. OnStart receives the id of the
 * worker running it, in [0, NumWorkers), so that jobs can use worker-owned
 * resources without locking.
 */
type JobTask struct {
	Name       string
	OnStart    func(workerID int) error
	OnComplete func()
	OnFailure  func(err error)
	// Called after OnComplete/OnFailure in every case.
	OnCompletionCallback func()
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) NumWorkers() int {
	return js.numWorkers
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func(workerID int) {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(workerID, job)
			}
		}(i)
	}
}

func (js *JobSystem) run(workerID int, job JobTask) {
	if job.OnCompletionCallback != nil {
		defer job.OnCompletionCallback()
	}
	if err := job.OnStart(workerID); err != nil {
		core.LogError("job failed", "job", job.Name, "worker", workerID, "err", err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
		return
	}
	if job.OnComplete != nil {
		job.OnComplete()
	}
}

/**
 * @brief Shuts the job system down. Queued jobs still run.
 */
func (js *JobSystem) Shutdown() error {
	js.closeOnce.Do(func() { close(js.jobQueue) })
	js.wg.Wait()
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while the queue is full.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt JobTask) {
	js.jobQueue <- jt
}

// RunAll submits every job and waits for all of them. The first error wins.
func (js *JobSystem) RunAll(jobs []JobTask) error {
	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)
	wg.Add(len(jobs))
	for _, j := range jobs {
		j := j
		onFailure := j.OnFailure
		j.OnFailure = func(err error) {
			once.Do(func() { first = err })
			if onFailure != nil {
				onFailure(err)
			}
		}
		done := j.OnCompletionCallback
		j.OnCompletionCallback = func() {
			if done != nil {
				done()
			}
			wg.Done()
		}
		js.Submit(j)
	}
	wg.Wait()
	return first
}
