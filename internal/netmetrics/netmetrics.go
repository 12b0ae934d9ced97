// Package netmetrics records transfer status, speed and latency for the
// network operations (fetch, pull, push) issued through the gateway.
//
// A Tracker is written by the gateway through the Sink interface and read
// by everything else through Reader. Finish returns the tracker to idle but
// keeps the last recorded speeds and latency so they stay displayable after
// the transfer ends.
package netmetrics

import (
	"math"
	"sync"
	"time"
)

// Status is the current transfer direction
type Status string

const (
	StatusIdle        Status = "idle"
	StatusUploading   Status = "uploading"
	StatusDownloading Status = "downloading"
)

// Snapshot is a point-in-time copy of the tracker state.
// Speeds are in KB/s, latency in milliseconds, sizes in bytes.
type Snapshot struct {
	Status        Status    `json:"status"`
	DownloadSpeed float64   `json:"downloadSpeed"`
	UploadSpeed   float64   `json:"uploadSpeed"`
	Latency       float64   `json:"latency"`
	CurrentSize   int64     `json:"currentSize"`
	TotalSize     int64     `json:"totalSize"`
	Operation     string    `json:"operation"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// Sink is the write side of the tracker
type Sink interface {
	SetDownloadSpeed(kbps float64)
	SetUploadSpeed(kbps float64)
	SetLatency(ms float64)
	SetStatus(s Status)
	SetProgress(current, total int64)
	SetOperation(op string)
	StartUpload(op string, totalBytes int64)
	StartDownload(op string, totalBytes int64)
	Finish()
}

// Reader is the read side of the tracker
type Reader interface {
	Snapshot() Snapshot
}

// Tracker holds the process-wide network metrics state
type Tracker struct {
	now func() time.Time

	mu        sync.Mutex
	state     Snapshot
	listeners []func(Snapshot)
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces time.Now for LastUpdated stamps
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New returns an idle tracker
func New(opts ...Option) *Tracker {
	t := &Tracker{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	t.state = Snapshot{Status: StatusIdle, LastUpdated: t.now()}
	return t
}

// Snapshot returns a copy of the current state
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnUpdate registers fn to be called with the new state after every change.
// fn runs on the mutating goroutine and must not call back into the tracker.
func (t *Tracker) OnUpdate(fn func(Snapshot)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// update applies fn and stamps LastUpdated under one lock, then notifies
// listeners outside it.
func (t *Tracker) update(fn func(s *Snapshot)) {
	t.mu.Lock()
	fn(&t.state)
	t.state.LastUpdated = t.now()
	snap := t.state
	listeners := t.listeners
	t.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (t *Tracker) SetDownloadSpeed(kbps float64) {
	t.update(func(s *Snapshot) { s.DownloadSpeed = math.Round(kbps) })
}

func (t *Tracker) SetUploadSpeed(kbps float64) {
	t.update(func(s *Snapshot) { s.UploadSpeed = math.Round(kbps) })
}

func (t *Tracker) SetLatency(ms float64) {
	t.update(func(s *Snapshot) { s.Latency = math.Round(ms) })
}

func (t *Tracker) SetStatus(status Status) {
	t.update(func(s *Snapshot) { s.Status = status })
}

func (t *Tracker) SetProgress(current, total int64) {
	t.update(func(s *Snapshot) {
		s.CurrentSize = current
		s.TotalSize = total
	})
}

func (t *Tracker) SetOperation(op string) {
	t.update(func(s *Snapshot) { s.Operation = op })
}

// StartUpload marks an upload as in flight and resets progress counters
// and the upload speed
func (t *Tracker) StartUpload(op string, totalBytes int64) {
	t.start(StatusUploading, op, totalBytes)
}

// StartDownload marks a download as in flight and resets progress counters
// and the download speed
func (t *Tracker) StartDownload(op string, totalBytes int64) {
	t.start(StatusDownloading, op, totalBytes)
}

func (t *Tracker) start(status Status, op string, totalBytes int64) {
	t.update(func(s *Snapshot) {
		s.Status = status
		s.Operation = op
		s.CurrentSize = 0
		s.TotalSize = totalBytes
		if status == StatusUploading {
			s.UploadSpeed = 0
		} else {
			s.DownloadSpeed = 0
		}
	})
}

// Finish returns to idle and zeroes progress. Speeds and latency are kept.
func (t *Tracker) Finish() {
	t.update(func(s *Snapshot) {
		s.Status = StatusIdle
		s.Operation = ""
		s.CurrentSize = 0
		s.TotalSize = 0
	})
}

// Reset returns the tracker to its initial zero state
func (t *Tracker) Reset() {
	t.update(func(s *Snapshot) { *s = Snapshot{Status: StatusIdle} })
}
