package netmetrics

import (
	"testing"
	"time"
)

func TestNewIsIdle(t *testing.T) {
	s := New().Snapshot()
	if s.Status != StatusIdle || s.DownloadSpeed != 0 || s.Operation != "" {
		t.Errorf("New() state = %+v", s)
	}
}

func TestStartAndFinish(t *testing.T) {
	tr := New()

	tr.StartDownload("fetch", 100*1024)
	s := tr.Snapshot()
	if s.Status != StatusDownloading || s.Operation != "fetch" || s.TotalSize != 100*1024 {
		t.Errorf("after StartDownload: %+v", s)
	}

	tr.SetProgress(100*1024, 100*1024)
	tr.SetDownloadSpeed(49.6)
	tr.SetLatency(2000.4)
	tr.Finish()

	s = tr.Snapshot()
	if s.Status != StatusIdle {
		t.Errorf("Status = %s, want idle", s.Status)
	}
	if s.CurrentSize != 0 || s.TotalSize != 0 || s.Operation != "" {
		t.Errorf("Finish() should zero progress: %+v", s)
	}
	if s.DownloadSpeed != 50 {
		t.Errorf("DownloadSpeed = %v, want 50 kept after Finish", s.DownloadSpeed)
	}
	if s.Latency != 2000 {
		t.Errorf("Latency = %v, want 2000", s.Latency)
	}
}

func TestStartUploadResetsProgress(t *testing.T) {
	tr := New()
	tr.SetProgress(10, 20)
	tr.SetDownloadSpeed(50)
	tr.SetUploadSpeed(70)

	tr.StartDownload("fetch", 100)
	s := tr.Snapshot()
	if s.Status != StatusDownloading || s.DownloadSpeed != 0 || s.UploadSpeed != 70 {
		t.Errorf("after StartDownload: %+v", s)
	}

	tr.StartUpload("push", 300)
	s = tr.Snapshot()
	if s.Status != StatusUploading || s.CurrentSize != 0 || s.TotalSize != 300 {
		t.Errorf("after StartUpload: %+v", s)
	}
	if s.UploadSpeed != 0 {
		t.Errorf("UploadSpeed = %v, want 0 while the push is in flight", s.UploadSpeed)
	}
}

func TestReset(t *testing.T) {
	tr := New()
	tr.SetUploadSpeed(12)
	tr.SetStatus(StatusUploading)
	tr.Reset()

	s := tr.Snapshot()
	if s.UploadSpeed != 0 || s.Status != StatusIdle {
		t.Errorf("Reset() state = %+v", s)
	}
}

func TestLastUpdated(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := New(WithClock(func() time.Time { return now }))

	now = now.Add(time.Minute)
	tr.SetOperation("pull")
	if got := tr.Snapshot().LastUpdated; !got.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", got, now)
	}
}

func TestOnUpdate(t *testing.T) {
	tr := New()
	var got []Status
	tr.OnUpdate(func(s Snapshot) { got = append(got, s.Status) })

	tr.StartDownload("fetch", 0)
	tr.Finish()

	if len(got) != 2 || got[0] != StatusDownloading || got[1] != StatusIdle {
		t.Errorf("listener saw %v", got)
	}
}
