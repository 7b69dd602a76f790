package fscrypt

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// DataUnitSize is the size of one logical block of file contents
const DataUnitSize = 4096

// ParallelConfig controls parallel data unit processing on the software path
type ParallelConfig struct {
	// Enabled enables parallel processing
	Enabled bool

	// MaxWorkers is the maximum number of worker goroutines
	// If 0, defaults to runtime.NumCPU()
	MaxWorkers int

	// MinUnitsForParallel is the minimum number of data units to use
	// parallel processing. Below this threshold units are processed
	// sequentially.
	MinUnitsForParallel int
}

// Validate checks if the parallel configuration is valid
func (p *ParallelConfig) Validate() error {
	if !p.Enabled {
		return nil // Nothing to validate if disabled
	}

	if p.MaxWorkers < 0 {
		return errors.New("parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return errors.New("parallel max workers must not exceed 1024")
	}
	if p.MinUnitsForParallel < 1 {
		return errors.New("parallel min units threshold must be at least 1")
	}
	if p.MinUnitsForParallel > 1000 {
		return errors.New("parallel min units threshold must not exceed 1000")
	}

	return nil
}

// DefaultParallelConfig returns the default parallel processing configuration
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:             true,
		MaxWorkers:          runtime.NumCPU(),
		MinUnitsForParallel: 4,
	}
}

// unitJob is one data unit of a multi-unit request
type unitJob struct {
	lblk uint64
	dst  []byte
	src  []byte
}

// splitUnits cuts src and dst into data units starting at lblk. The last
// unit may be shorter than DataUnitSize.
func splitUnits(dst, src []byte, lblk uint64) []unitJob {
	jobs := make([]unitJob, 0, (len(src)+DataUnitSize-1)/DataUnitSize)
	for off := 0; off < len(src); off += DataUnitSize {
		end := min(off+DataUnitSize, len(src))
		jobs = append(jobs, unitJob{
			lblk: lblk + uint64(off/DataUnitSize),
			dst:  dst[off:end],
			src:  src[off:end],
		})
	}
	return jobs
}

// EncryptUnits encrypts a run of consecutive data units starting at lblk
func (c *SoftwareCipher) EncryptUnits(dst, src []byte, lblk uint64) error {
	if err := c.check(dst, src); err != nil {
		return NewEncryptionError("encrypt", c.path, lblk, err)
	}
	return c.runUnits(splitUnits(dst, src, lblk), "encryption", c.EncryptBlock)
}

// DecryptUnits decrypts a run of consecutive data units starting at lblk
func (c *SoftwareCipher) DecryptUnits(dst, src []byte, lblk uint64) error {
	if err := c.check(dst, src); err != nil {
		return NewEncryptionError("decrypt", c.path, lblk, err)
	}
	return c.runUnits(splitUnits(dst, src, lblk), "decryption", c.DecryptBlock)
}

// runUnits applies fn to every job, in parallel when configured
func (c *SoftwareCipher) runUnits(jobs []unitJob, what string, fn func(dst, src []byte, lblk uint64) error) error {
	if len(jobs) == 0 {
		return nil
	}

	// Determine number of workers
	numWorkers := c.parallel.MaxWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	// Limit workers to number of units
	if numWorkers > len(jobs) {
		numWorkers = len(jobs)
	}

	// Check if parallel processing is worth it
	if !c.parallel.Enabled || len(jobs) < c.parallel.MinUnitsForParallel {
		for _, job := range jobs {
			if err := fn(job.dst, job.src, job.lblk); err != nil {
				return err
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	jobChan := make(chan int, len(jobs))
	errChan := make(chan error, numWorkers)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("panic in %s worker: %v", what, r)
					select {
					case errChan <- err:
					default:
					}
				}
			}()
			for idx := range jobChan {
				job := jobs[idx]
				if err := fn(job.dst, job.src, job.lblk); err != nil {
					select {
					case errChan <- err:
					default:
					}
					return
				}
			}
		}()
	}

	for i := range jobs {
		jobChan <- i
	}
	close(jobChan)

	wg.Wait()
	close(errChan)

	select {
	case err := <-errChan:
		return err
	default:
		return nil
	}
}
