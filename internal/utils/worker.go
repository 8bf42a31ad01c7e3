package utils

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	taskChanSize = 100
)

type WorkerFunction = func(t *tomb.Tomb, task any) error
type WorkerPool struct {
	n     int             // number of workers
	tasks chan any        // task connection pool
	dying <-chan struct{} // closed once the workers' tomb is dying
}

func NewWorkerPool(size uint) WorkerPool {
	return WorkerPool{
		n:     int(size),
		tasks: make(chan any, taskChanSize),
	}
}

// Setup starts the workers under t. Each worker lives until t starts dying or
// work returns an error.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	pool.dying = t.Dying()
	for id := range pool.n {
		t.Go(func() error {
			return pool.worker(t, id, work)
		})
	}
}

// AddTask queues a task for the next free worker. Workers may requeue the
// task they are handling, so a full queue hands off to a goroutine instead of
// blocking the caller. Tasks still waiting when the workers die are dropped.
func (pool *WorkerPool) AddTask(task any) {
	select {
	case pool.tasks <- task:
	default:
		dying := pool.dying
		go func() {
			select {
			case pool.tasks <- task:
			case <-dying:
			}
		}()
	}
}

// Workers wait on tasks in the task connection pool and action them.
func (pool *WorkerPool) worker(t *tomb.Tomb, id int, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Int("id", id).Msg("worker exiting")
				return err
			}
		}
	}
}
