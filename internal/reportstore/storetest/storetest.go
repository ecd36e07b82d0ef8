// Package storetest is a conformance suite for [reportstore.Store]
// implementations.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/poise/internal/feedback"
	"github.com/MrWong99/poise/internal/report"
	"github.com/MrWong99/poise/internal/reportstore"
	"github.com/MrWong99/poise/pkg/types"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) reportstore.Store

// SampleRecord returns a fully populated record stopped at the given time.
func SampleRecord(id string, stopped time.Time) reportstore.Record {
	goals := feedback.DefaultGoals()
	goals.Smiling = false
	return reportstore.Record{
		SessionID: id,
		StartedAt: stopped.Add(-125 * time.Second),
		StoppedAt: stopped,
		Goals:     goals,
		Report: report.Report{
			OverallScore: 68,
			Color:        report.ColorFair,
			Duration:     125 * time.Second,
			DurationText: "2:05",
			Metrics: []types.PerformanceMetric{
				{Name: report.NameVerbal, Score: 70},
			},
			Strengths:      []string{},
			Improvements:   []string{"Slow down."},
			FeedbackCounts: map[types.FeedbackType]int{types.FeedbackPace: 2},
			FeedbackTotal:  2,
		},
		Transcript: "I led the migration project.",
	}
}

// Run exercises newStore against the [reportstore.Store] contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		stopped := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		want := SampleRecord("s1", stopped)
		if err := s.Save(ctx, want); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := s.Get(ctx, "s1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Report.OverallScore != 68 || got.Report.DurationText != "2:05" {
			t.Errorf("report = %+v", got.Report)
		}
		if got.Report.Duration != want.Report.Duration {
			t.Errorf("duration = %v, want %v", got.Report.Duration, want.Report.Duration)
		}
		if got.Goals.Smiling || !got.Goals.Posture {
			t.Errorf("goals = %+v", got.Goals)
		}
		if got.Report.FeedbackCounts[types.FeedbackPace] != 2 {
			t.Errorf("feedback counts = %v", got.Report.FeedbackCounts)
		}
		if len(got.Report.Metrics) != 1 || got.Report.Metrics[0].Score != 70 {
			t.Errorf("metrics = %+v", got.Report.Metrics)
		}
		if !got.StoppedAt.Equal(stopped) {
			t.Errorf("stopped_at = %v, want %v", got.StoppedAt, stopped)
		}
		if got.Transcript != want.Transcript {
			t.Errorf("transcript = %q", got.Transcript)
		}
	})

	t.Run("SaveUpserts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := SampleRecord("s1", time.Now().UTC().Truncate(time.Millisecond))
		if err := s.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
		rec.Report.OverallScore = 90
		if err := s.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Report.OverallScore != 90 {
			t.Errorf("OverallScore = %d, want 90", got.Report.OverallScore)
		}
		all, err := s.List(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 1 {
			t.Errorf("List after upsert has %d records, want 1", len(all))
		}
	})

	t.Run("SaveRejectsEmptyID", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(context.Background(), SampleRecord("", time.Now())); err == nil {
			t.Error("Save with empty session id succeeded")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "missing")
		if !errors.Is(err, reportstore.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		for i, id := range []string{"a", "b", "c"} {
			if err := s.Save(ctx, SampleRecord(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
				t.Fatal(err)
			}
		}

		got, err := s.List(ctx, 2)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 || got[0].SessionID != "c" || got[1].SessionID != "b" {
			t.Errorf("List(2) = %v", IDs(got))
		}

		all, err := s.List(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 {
			t.Errorf("List(0) len = %d, want 3", len(all))
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

// IDs returns the session ids of recs in order.
func IDs(recs []reportstore.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.SessionID
	}
	return out
}
