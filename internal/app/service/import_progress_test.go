package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"import_tables/internal/common"
	"import_tables/internal/domain/model"
)

func TestProgressOrdersScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	progress := f.progressService(0).Track("orders-1")

	job, err := progress.Pending(ctx, "orders", "f.csv")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if job.Status != model.ImportStatusPending || job.TotalRows != 0 || job.Module != "orders" {
		t.Fatalf("after Pending: %+v", job)
	}

	job, err = progress.Processing(ctx)
	if err != nil {
		t.Fatalf("Processing: %v", err)
	}
	if job.Status != model.ImportStatusProcessing {
		t.Fatalf("after Processing: %+v", job)
	}
	if ok, err := progress.IsProcessing(ctx); err != nil || !ok {
		t.Fatalf("IsProcessing = %v, %v", ok, err)
	}

	writesBefore := f.imports.inserts + f.imports.updates
	for i := 1; i <= 7; i++ {
		mustDo(t, progress.IncrementTotalRow(ctx))
		mustDo(t, progress.IncrementOk(ctx))
		mustDo(t, progress.PushOkMessage(ctx, fmt.Sprintf("row %d imported", i)))
	}
	for i := 8; i <= 10; i++ {
		mustDo(t, progress.IncrementTotalRow(ctx))
		mustDo(t, progress.IncrementFail(ctx))
		mustDo(t, progress.PushFailMessage(ctx, fmt.Sprintf("row %d: invalid sku", i)))
	}
	if writes := f.imports.inserts + f.imports.updates; writes != writesBefore {
		t.Fatalf("row updates reached the durable store: %d writes", writes-writesBefore)
	}
	if total, _ := progress.TotalRow(ctx); total != 10 {
		t.Fatalf("TotalRow = %d, want 10", total)
	}

	job, err = progress.Done(ctx)
	if err != nil {
		t.Fatalf("Done: %v", err)
	}
	stored, err := f.imports.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != model.ImportStatusDone || stored.TotalRows != 10 ||
		stored.SuccessRows != 7 || stored.FailedRows != 3 ||
		len(stored.Success) != 7 || len(stored.Errors) != 3 {
		t.Fatalf("durable record after Done = %+v", stored)
	}
	if stored.TotalRows != stored.SuccessRows+stored.FailedRows {
		t.Fatalf("total_rows %d != success %d + failed %d", stored.TotalRows, stored.SuccessRows, stored.FailedRows)
	}
	if ok, _ := progress.IsProcessing(ctx); ok {
		t.Fatal("IsProcessing after Done")
	}

	evts := f.publisher.Events()
	if len(evts) != 1 || evts[0].Status != model.ImportStatusDone || evts[0].ID != job.ID || evts[0].TotalRows != 10 {
		t.Fatalf("events = %+v", evts)
	}
}

func mustDo(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestProgressPendingAttachesToActiveImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	progress := f.progressService(0).Track("orders-1")

	first, err := progress.Pending(ctx, "orders", "a.csv")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	mustDo(t, progress.IncrementOk(ctx))

	second, err := progress.Pending(ctx, "orders", "b.csv")
	if err != nil {
		t.Fatalf("second Pending: %v", err)
	}
	if second.ID != first.ID || f.imports.inserts != 1 {
		t.Fatalf("second Pending created a new record: %d vs %d, inserts %d", second.ID, first.ID, f.imports.inserts)
	}
	if !strings.Contains(f.logs.String(), "attaching to active import") {
		t.Fatalf("expected a warning, logs:\n%s", f.logs.String())
	}
	if ok, _ := progress.TotalOk(ctx); ok != 0 {
		t.Fatalf("Pending must clear counters, ok = %d", ok)
	}
}

func TestProgressFailedAddsToPriorTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, model.ImportJob{Key: "orders-1", Module: "orders", Status: model.ImportStatusProcessing, TotalRows: 5})
	progress := f.progressService(2).Track("orders-1")

	mustDo(t, progress.IncrementOk(ctx))
	for i := 0; i < 3; i++ {
		mustDo(t, progress.IncrementFail(ctx))
		mustDo(t, progress.PushFailMessage(ctx, fmt.Sprintf("err %d", i)))
	}

	job, err := progress.Failed(ctx)
	if err != nil {
		t.Fatalf("Failed: %v", err)
	}
	if job.Status != model.ImportStatusFailed || job.TotalRows != 9 || job.SuccessRows != 1 || job.FailedRows != 3 {
		t.Fatalf("after Failed: %+v", job)
	}
	if len(job.Errors) != 2 || job.Errors[1] != "err 2" {
		t.Fatalf("errors sample = %v, want the last 2", job.Errors)
	}
	if evts := f.publisher.Events(); len(evts) != 1 || evts[0].RoutingKey() != "import.failed" {
		t.Fatalf("events = %+v", evts)
	}
}

func TestProgressGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	progress := f.progressService(0).Track("orders-1")

	if _, err := progress.Processing(ctx); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Processing without import err = %v, want ErrNotFound", err)
	}
	if _, err := progress.Done(ctx); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Done without import err = %v, want ErrNotFound", err)
	}

	if _, err := progress.Pending(ctx, "", ""); err != nil {
		t.Fatalf("Pending: %v", err)
	}
	mustDo(t, progress.IncrementOk(ctx))
	job, err := progress.Done(ctx)
	if err != nil {
		t.Fatalf("Done while pending: %v", err)
	}
	if job.Status != model.ImportStatusPending || job.SuccessRows != 0 || job.Module != model.DefaultModule {
		t.Fatalf("Done while pending must leave the record alone: %+v", job)
	}
	if len(f.publisher.Events()) != 0 {
		t.Fatal("no event expected for a rejected transition")
	}

	if _, err := progress.Processing(ctx); err != nil {
		t.Fatalf("Processing: %v", err)
	}
	updates := f.imports.updates
	job, err = progress.Processing(ctx)
	if err != nil {
		t.Fatalf("repeated Processing: %v", err)
	}
	if job.Status != model.ImportStatusProcessing || f.imports.updates != updates {
		t.Fatalf("repeated Processing wrote %d times, status %s", f.imports.updates-updates, job.Status)
	}

	if _, err := progress.Done(ctx); err != nil {
		t.Fatalf("Done: %v", err)
	}
	if _, err := progress.Done(ctx); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("second Done err = %v, want ErrNotFound", err)
	}
}

func TestProgressClearAndView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.progressService(0)
	progress := svc.Track("orders-1")

	if _, err := progress.Pending(ctx, "orders", ""); err != nil {
		t.Fatalf("Pending: %v", err)
	}
	mustDo(t, progress.IncrementTotalRow(ctx))
	mustDo(t, progress.IncrementOk(ctx))
	mustDo(t, progress.PushOkMessage(ctx, "row 1"))

	view, err := svc.Progress(ctx, "orders-1")
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if view.Import == nil || view.Import.Status != model.ImportStatusPending || view.Total != 1 || view.Ok != 1 || len(view.OkMessages) != 1 {
		t.Fatalf("view = %+v", view)
	}

	mustDo(t, progress.Clear(ctx))
	total, _ := progress.TotalRow(ctx)
	ok, _ := progress.TotalOk(ctx)
	failed, _ := progress.TotalFailed(ctx)
	okMsgs, _ := progress.OkMessages(ctx, 10)
	failMsgs, _ := progress.FailMessages(ctx, 10)
	if total != 0 || ok != 0 || failed != 0 || len(okMsgs) != 0 || len(failMsgs) != 0 {
		t.Fatalf("after Clear: %d %d %d %v %v", total, ok, failed, okMsgs, failMsgs)
	}

	view, err = svc.Progress(ctx, "unknown")
	if err != nil || view.Import != nil || view.Total != 0 {
		t.Fatalf("Progress(unknown) = %+v, %v", view, err)
	}
}

func TestProgressCounterStoreDown(t *testing.T) {
	f := newFixture(t)
	progress := f.progressService(0).Track("orders-1")
	f.redis.Close()

	if _, err := progress.Pending(context.Background(), "orders", ""); !errors.Is(err, common.ErrStoreUnavailable) {
		t.Fatalf("Pending err = %v, want ErrStoreUnavailable", err)
	}
	if f.imports.inserts != 0 {
		t.Fatal("no record should be created when the counters cannot be reset")
	}
}

func TestProgressDoneKeepsRecordWhenSamplesUnreadable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	progress := f.progressService(0).Track("orders-1")

	if _, err := progress.Pending(ctx, "orders", "orders.csv"); err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if _, err := progress.Processing(ctx); err != nil {
		t.Fatalf("Processing: %v", err)
	}
	_ = progress.IncrementOk(ctx)
	if err := f.redis.Set("import:orders-1:msg:fail", "not a list"); err != nil {
		t.Fatal(err)
	}

	if _, err := progress.Done(ctx); err == nil {
		t.Fatal("Done succeeded with an unreadable sample list")
	}
	processing, err := progress.IsProcessing(ctx)
	if err != nil || !processing {
		t.Fatalf("IsProcessing = %v, %v; the record should be untouched", processing, err)
	}
	if evs := f.publisher.Events(); len(evs) != 0 {
		t.Fatalf("published %d events for an unfinished import", len(evs))
	}
}
