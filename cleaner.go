// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"context"
	"runtime/pprof"
	"sync"
	"sync/atomic"

	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/invariants"
	"github.com/lsmcore/lsmcore/internal/rate"
	"github.com/lsmcore/lsmcore/vfs"
)

var cleanerLabels = pprof.Labels("lsmcore", "cleaner")

// cleanupManager deletes obsolete files on a background goroutine, outside
// the database mutex. Table deletions are paced to TargetByteDeletionRate
// when it is set.
type cleanupManager struct {
	dirname string
	fs      vfs.FS
	paths   []DBPath
	logger  Logger
	tc      TableCache
	limiter *rate.Limiter

	// jobsCh is the job queue.
	jobsCh    chan cleanupJob
	waitGroup sync.WaitGroup

	deletedTables     atomic.Int64
	deletedTableBytes atomic.Uint64
	deletedManifests  atomic.Int64

	mu struct {
		sync.Mutex
		queuedJobs        int
		completedJobs     int
		completedJobsCond sync.Cond
	}
}

// cleanupJob is a queued ObsoleteFiles, numbered in queue order.
type cleanupJob struct {
	jobID int
	files ObsoleteFiles
}

// We rarely have more than a couple of jobs queued.
const jobsChLen = 10000

func openCleanupManager(dirname string, opts *Options, tc TableCache) *cleanupManager {
	cm := &cleanupManager{
		dirname: dirname,
		fs:      opts.FS,
		paths:   opts.DBPaths,
		logger:  opts.Logger,
		tc:      tc,
		jobsCh:  make(chan cleanupJob, jobsChLen),
	}
	if r := opts.TargetByteDeletionRate; r > 0 {
		cm.limiter = rate.NewLimiter(float64(r), float64(r))
	}
	cm.mu.completedJobsCond.L = &cm.mu.Mutex
	cm.waitGroup.Add(1)

	go func() {
		pprof.Do(context.Background(), cleanerLabels, func(context.Context) {
			cm.mainLoop()
		})
	}()
	return cm
}

// Close stops the background goroutine once the queued jobs are completed.
func (cm *cleanupManager) Close() {
	close(cm.jobsCh)
	cm.waitGroup.Wait()
}

// EnqueueJob queues the deletion of the files.
func (cm *cleanupManager) EnqueueJob(files ObsoleteFiles) {
	if len(files.Tables) == 0 && len(files.Manifests) == 0 {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	select {
	case cm.jobsCh <- cleanupJob{jobID: cm.mu.queuedJobs + 1, files: files}:
		cm.mu.queuedJobs++
	default:
		if invariants.Enabled {
			panic("cleanup jobs queue full")
		}
		cm.logger.Infof("cleanup jobs queue full")
	}
}

// Wait waits for the jobs queued before the call. The database mutex must
// not be held.
func (cm *cleanupManager) Wait() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	n := cm.mu.queuedJobs
	for cm.mu.completedJobs < n {
		cm.mu.completedJobsCond.Wait()
	}
}

func (cm *cleanupManager) mainLoop() {
	defer cm.waitGroup.Done()
	for job := range cm.jobsCh {
		logger := base.WithField(cm.logger, "job", job.jobID)
		for _, f := range job.files.Tables {
			if cm.limiter != nil {
				cm.limiter.Wait(float64(f.Size))
			}
			if cm.tc != nil {
				cm.tc.Evict(f.FileNum)
			}
			path := base.MakeFilepath(cm.fs, tableDir(cm.dirname, cm.paths, f.PathID), base.FileTypeTable, f.FileNum)
			if cm.remove(logger, path) {
				cm.deletedTables.Add(1)
				cm.deletedTableBytes.Add(f.Size)
			}
		}
		for _, fileNum := range job.files.Manifests {
			if cm.remove(logger, base.MakeFilepath(cm.fs, cm.dirname, base.FileTypeManifest, fileNum)) {
				cm.deletedManifests.Add(1)
			}
		}
		cm.mu.Lock()
		cm.mu.completedJobs++
		cm.mu.completedJobsCond.Broadcast()
		cm.mu.Unlock()
	}
}

// remove deletes the file, returning true if it existed. Other errors are
// logged.
func (cm *cleanupManager) remove(logger Logger, path string) bool {
	err := cm.fs.Remove(path)
	switch {
	case err == nil:
		logger.Infof("Deleted obsolete file %s", path)
		return true
	case vfs.IsNotExist(err):
		return false
	default:
		logger.Errorf("Failed to delete obsolete file %s: %v", path, err)
		return false
	}
}
