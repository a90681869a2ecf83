package pkgfetcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/open-edge-platform/bundlr/internal/utils/network"
	"github.com/schollz/progressbar/v3"
)

// Job is one file to download.
type Job struct {
	URL  string
	Dest string // full destination path
}

// FetchPackages downloads every job using a pool of workers.
// It shows a single progress bar tracking files completed vs total and
// returns one error slot per job, nil on success.
func FetchPackages(jobs []Job, workers int, dl network.Downloader) []error {
	log := logger.Logger()

	total := len(jobs)
	errs := make([]error, total)
	if total == 0 {
		return errs
	}
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}

	queue := make(chan int, total)
	var wg sync.WaitGroup

	// create a single progress bar for total files
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	// start worker goroutines
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				job := jobs[idx]
				name := filepath.Base(job.Dest)

				// update description to current file
				bar.Describe(fmt.Sprintf("downloading %s", name))

				err := func() error {
					// ensure destination directory exists
					if err := os.MkdirAll(filepath.Dir(job.Dest), 0755); err != nil {
						return err
					}
					return dl.DownloadFile(job.URL, job.Dest, nil)
				}()
				if err != nil {
					log.Errorf("downloading %s failed: %v", job.URL, err)
					errs[idx] = fmt.Errorf("downloading %s: %w", job.URL, err)
				}
				// increment progress bar
				bar.Add(1)
			}
		}()
	}

	// enqueue jobs
	for i := range jobs {
		queue <- i
	}
	close(queue)

	wg.Wait()
	bar.Finish()
	return errs
}
