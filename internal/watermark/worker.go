package watermark

import (
	"bytes"
	"log"
	"os"
	"sync"

	"pixelbay/internal/domain"
)

// Replacer атомарно подменяет содержимое файла (temp + rename)
type Replacer interface {
	ReplaceAtomic(path string, data []byte) error
}

// Job — отложенная простановка знака на уже сохраненный файл
type Job struct {
	Path string
	Spec domain.WatermarkSpec
}

// Worker обрабатывает асинхронные водяные знаки. HTTP-ответ уходит сразу
// со стабильным именем файла; воркер перезаписывает файл на месте через
// временный файл и rename, поэтому читатель видит либо исходные, либо
// обработанные байты, но никогда не частичную запись. Перезапись
// идемпотентна: повторная обработка уже помеченного файла безопасна.
type Worker struct {
	jobs     chan Job
	replacer Replacer
	wg       sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func NewWorker(replacer Replacer, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Worker{
		jobs:     make(chan Job, queueSize),
		replacer: replacer,
	}
}

// Start запускает горутины обработки очереди
func (w *Worker) Start(workers int) {
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for job := range w.jobs {
				w.process(job)
			}
		}()
	}
}

// Enqueue ставит файл в очередь на обработку. После остановки воркера
// задания отбрасываются с записью в лог.
func (w *Worker) Enqueue(job Job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		log.Printf("[Watermark] worker stopped, dropping job for %s", job.Path)
		return
	}
	w.jobs <- job
}

// Stop закрывает очередь и дожидается обработки оставшихся заданий
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.jobs)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Worker) process(job Job) {
	data, err := os.ReadFile(job.Path)
	if err != nil {
		log.Printf("[Watermark] failed to read %s: %v", job.Path, err)
		return
	}

	out := Apply(data, job.Spec)
	if bytes.Equal(out, data) {
		return
	}

	if err := w.replacer.ReplaceAtomic(job.Path, out); err != nil {
		log.Printf("[Watermark] failed to rewrite %s: %v", job.Path, err)
	}
}
