package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"orgdir.io/orgdir/internal/domain"
)

func TestReconcileArgsKind(t *testing.T) {
	t.Parallel()

	if got := (ReconcileArgs{}).Kind(); got != "projection_reconcile" {
		t.Fatalf("Kind() = %q, want %q", got, "projection_reconcile")
	}
}

func TestReconcileArgsInsertOpts(t *testing.T) {
	t.Parallel()

	opts := (ReconcileArgs{}).InsertOpts()
	if opts.Queue != QueueProjections {
		t.Fatalf("Queue = %q, want %q", opts.Queue, QueueProjections)
	}
	if opts.MaxAttempts != 1 {
		t.Fatalf("MaxAttempts = %d, want 1", opts.MaxAttempts)
	}
	if opts.UniqueOpts.ByPeriod != 24*time.Hour {
		t.Fatalf("UniqueOpts.ByPeriod = %s, want %s", opts.UniqueOpts.ByPeriod, 24*time.Hour)
	}
	if !opts.UniqueOpts.ByQueue || !opts.UniqueOpts.ByArgs {
		t.Fatalf("UniqueOpts = %+v, want ByQueue and ByArgs", opts.UniqueOpts)
	}
}

type failingRefresher struct {
	calls  []domain.EntityType
	failAt domain.EntityType
}

func (f *failingRefresher) Refresh(_ context.Context, t domain.EntityType, ids []string) error {
	if ids != nil {
		return errors.New("reconcile must select every entity")
	}
	f.calls = append(f.calls, t)
	if t == f.failAt {
		return errors.New("boom")
	}
	return nil
}

func TestReconcileWorkerWork(t *testing.T) {
	t.Parallel()

	t.Run("refreshes every type in order", func(t *testing.T) {
		ref := &failingRefresher{}
		w := NewReconcileWorker(ref)
		if err := w.Work(context.Background(), &river.Job[ReconcileArgs]{JobRow: &rivertype.JobRow{}}); err != nil {
			t.Fatalf("Work() error = %v", err)
		}
		want := domain.EntityTypes()
		if len(ref.calls) != len(want) {
			t.Fatalf("calls = %v, want %v", ref.calls, want)
		}
		for i := range want {
			if ref.calls[i] != want[i] {
				t.Fatalf("calls[%d] = %s, want %s", i, ref.calls[i], want[i])
			}
		}
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		ref := &failingRefresher{failAt: domain.EntityUser}
		w := NewReconcileWorker(ref)
		err := w.Work(context.Background(), &river.Job[ReconcileArgs]{JobRow: &rivertype.JobRow{}})
		if err == nil || !strings.Contains(err.Error(), "reconcile user") {
			t.Fatalf("Work() error = %v, want contains %q", err, "reconcile user")
		}
		if got := ref.calls[len(ref.calls)-1]; got != domain.EntityUser {
			t.Fatalf("last call = %s, want user", got)
		}
	})
}

func TestReconcileWorkerWork_Uninitialized(t *testing.T) {
	t.Parallel()

	var w *ReconcileWorker
	if err := w.Work(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("Work() error = %v, want contains %q", err, "not initialized")
	}
}
