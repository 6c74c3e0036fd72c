package laurel

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/empyre-fit/empyre/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func appendLog(t *testing.T, s *storage.Store, id, userID, logType, data string, offset time.Duration) {
	t.Helper()
	err := s.AppendProgressLog(context.Background(), storage.ProgressLog{
		ID:        id,
		UserID:    userID,
		LogType:   logType,
		LogData:   data,
		CreatedAt: base.Add(offset),
	})
	if err != nil {
		t.Fatalf("AppendProgressLog: %v", err)
	}
}

func drain(t *testing.T, w *Worker) int {
	t.Helper()
	n := 0
	for {
		done, err := w.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if !done {
			return n
		}
		n++
	}
}

func laurelTypes(t *testing.T, s *storage.Store, userID string) []string {
	t.Helper()
	ls, err := s.ListLaurels(context.Background(), userID)
	if err != nil {
		t.Fatalf("ListLaurels: %v", err)
	}
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.LaurelType
	}
	sort.Strings(out)
	return out
}

func TestEvaluate(t *testing.T) {
	prev := []storage.ProgressLog{
		{ID: "p2", LogType: "workout", LogData: `{"exercise":"Squat","weight_kg":100}`},
		{ID: "p1", LogType: "workout", LogData: `{"exercise":"Squat","weight_kg":120}`},
	}
	cases := []struct {
		name string
		log  storage.ProgressLog
		want []string
	}{
		{"workout", storage.ProgressLog{LogType: "workout", LogData: `{"exercise":"Bench Press"}`}, []string{TypeWorkoutLogged}},
		{"measurement", storage.ProgressLog{LogType: "measurement", LogData: `{"weight_kg":80}`}, []string{TypeMeasurementLogged}},
		{"goal", storage.ProgressLog{LogType: "goal", LogData: `{"goal":"first pull-up"}`}, []string{TypeGoalAchieved}},
		{"pr flag", storage.ProgressLog{LogType: "workout", LogData: `{"exercise":"Deadlift","pr":true}`}, []string{TypeWorkoutLogged, TypePR}},
		{"pr text", storage.ProgressLog{LogType: "workout", LogData: `{"note":"new personal best on deadlift!"}`}, []string{TypeWorkoutLogged, TypePR}},
		{"no pr in word", storage.ProgressLog{LogType: "workout", LogData: `{"note":"sprint intervals"}`}, []string{TypeWorkoutLogged}},
		{"overload vs latest", storage.ProgressLog{LogType: "workout", LogData: `{"exercise":"squat","weight_kg":"105 kg"}`}, []string{TypeWorkoutLogged, TypeProgressiveOverload}},
		{"no overload", storage.ProgressLog{LogType: "workout", LogData: `{"exercise":"squat","weight_kg":100}`}, []string{TypeWorkoutLogged}},
		{"garbage data", storage.ProgressLog{LogType: "workout", LogData: `not json`}, []string{TypeWorkoutLogged}},
		{"unknown type", storage.ProgressLog{LogType: "selfie", LogData: `{}`}, nil},
	}
	for _, tc := range cases {
		var got []string
		for _, a := range Evaluate(tc.log, prev) {
			got = append(got, a.Type)
		}
		if len(got) != len(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
			}
		}
	}
}

func TestWorker_AwardsFromLogs(t *testing.T) {
	s := openTestStore(t)
	appendLog(t, s, "l1", "u1", "workout", `{"exercise":"Bench Press","weight_kg":60}`, 0)
	appendLog(t, s, "l2", "u1", "workout", `{"exercise":"bench press","weight_kg":65,"note":"PR today"}`, time.Hour)
	appendLog(t, s, "l3", "u1", "goal", `{"goal":"bench bodyweight"}`, 2*time.Hour)

	w := NewWorker(s, time.Millisecond)
	if n := drain(t, w); n != 3 {
		t.Fatalf("processed %d jobs, want 3", n)
	}

	got := laurelTypes(t, s, "u1")
	want := []string{TypeGoalAchieved, TypePR, TypeProgressiveOverload, TypeWorkoutLogged, TypeWorkoutLogged}
	if len(got) != len(want) {
		t.Fatalf("laurels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("laurels = %v, want %v", got, want)
		}
	}

	pts, err := s.LaurelPoints(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if want := 10 + 10 + 25 + 15 + 50; pts != want {
		t.Errorf("points = %d, want %d", pts, want)
	}
}

func TestWorker_Idempotent(t *testing.T) {
	s := openTestStore(t)
	appendLog(t, s, "l1", "u1", "workout", `{"exercise":"Squat"}`, 0)

	// A retried job for the same log must not double-award.
	err := s.EnqueueJob(context.Background(), storage.Job{
		ID:          "dup",
		Type:        storage.JobAwardLaurel,
		PayloadJSON: `{"progress_log_id":"l1"}`,
	})
	if err != nil {
		t.Fatal(err)
	}

	drain(t, NewWorker(s, time.Millisecond))
	if got := laurelTypes(t, s, "u1"); len(got) != 1 {
		t.Errorf("laurels = %v, want one", got)
	}
	job, err := s.GetJob(context.Background(), "dup")
	if err != nil || job.Status != "completed" {
		t.Errorf("job = %+v, %v", job, err)
	}
}

func TestWorker_MissingLogFailsJob(t *testing.T) {
	s := openTestStore(t)
	err := s.EnqueueJob(context.Background(), storage.Job{
		ID:          "orphan",
		Type:        storage.JobAwardLaurel,
		PayloadJSON: `{"progress_log_id":"gone"}`,
	})
	if err != nil {
		t.Fatal(err)
	}

	done, err := NewWorker(s, time.Millisecond).RunOnce(context.Background())
	if !done || err != nil {
		t.Fatalf("RunOnce = %v, %v", done, err)
	}
	job, err := s.GetJob(context.Background(), "orphan")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != "pending" || job.Attempts != 1 || job.LastError == "" {
		t.Errorf("job = %+v, want rescheduled with error", job)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	s := openTestStore(t)
	appendLog(t, s, "l1", "u1", "measurement", `{"waist_cm":80}`, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewWorker(s, 5*time.Millisecond).Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		if got := laurelTypes(t, s, "u1"); len(got) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("laurel not awarded by running worker")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManual(t *testing.T) {
	l, err := Manual("u1", "streak", nil, "7 days in a row")
	if err != nil || l.Points != DefaultManualPoints || l.ID == "" {
		t.Errorf("Manual = %+v, %v", l, err)
	}
	neg := -5
	if _, err := Manual("u1", "streak", &neg, ""); err == nil {
		t.Error("negative points accepted")
	}
	if _, err := Manual("u1", "", nil, ""); err == nil {
		t.Error("missing type accepted")
	}
}
