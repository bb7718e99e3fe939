package presence

import (
	"errors"
	"testing"
	"time"

	"github.com/zulandar/porterline/internal/alerts"
	"github.com/zulandar/porterline/internal/db"
	"github.com/zulandar/porterline/internal/eventbus"
	"github.com/zulandar/porterline/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func loadPresence(t *testing.T, gdb *gorm.DB, workerID string) models.WorkerPresence {
	t.Helper()
	var p models.WorkerPresence
	if err := gdb.Where("worker_id = ?", workerID).First(&p).Error; err != nil {
		t.Fatalf("load presence: %v", err)
	}
	return p
}

func TestSetStatus_SelfReport(t *testing.T) {
	gdb := testDB(t)

	if err := SetStatus(gdb, "w1", StatusAvailable, ""); err != nil {
		t.Fatalf("set available: %v", err)
	}
	if p := loadPresence(t, gdb, "w1"); p.Status != StatusAvailable {
		t.Errorf("status = %q", p.Status)
	}

	if err := SetStatus(gdb, "w1", StatusOnBreak, ""); err != nil {
		t.Fatalf("set on_break: %v", err)
	}
	p := loadPresence(t, gdb, "w1")
	if p.Status != StatusOnBreak || p.OnBreakSince == nil {
		t.Errorf("on_break should set break start, got %+v", p)
	}

	if err := SetStatus(gdb, "w1", StatusAvailable, ""); err != nil {
		t.Fatalf("return: %v", err)
	}
	if p := loadPresence(t, gdb, "w1"); p.OnBreakSince != nil {
		t.Error("leaving on_break should clear break start")
	}
}

func TestSetStatus_OtherRequiresExplanation(t *testing.T) {
	gdb := testDB(t)
	if err := SetStatus(gdb, "w1", StatusOther, ""); err == nil {
		t.Error("other without explanation should fail")
	}
	if err := SetStatus(gdb, "w1", StatusOther, "equipment run"); err != nil {
		t.Errorf("other with explanation: %v", err)
	}
	if p := loadPresence(t, gdb, "w1"); p.StatusExplanation != "equipment run" {
		t.Errorf("explanation = %q", p.StatusExplanation)
	}
}

func TestSetStatus_GuardsBusyWorker(t *testing.T) {
	gdb := testDB(t)
	if err := gdb.Create(&models.TransportRequest{
		ID: "tr-1", OriginFloor: "3", RoomNumber: "1", Status: "en_route", AssignedTo: "w1",
	}).Error; err != nil {
		t.Fatal(err)
	}

	for _, status := range []string{StatusOnBreak, StatusOther, StatusOffline} {
		err := SetStatus(gdb, "w1", status, "x")
		if !errors.Is(err, ErrBusyWorker) {
			t.Errorf("set %s with live request: err = %v, want ErrBusyWorker", status, err)
		}
	}

	// Terminal request releases the guard.
	if err := gdb.Model(&models.TransportRequest{}).Where("id = ?", "tr-1").
		Update("status", "complete").Error; err != nil {
		t.Fatal(err)
	}
	if err := SetStatus(gdb, "w1", StatusOnBreak, ""); err != nil {
		t.Errorf("break after completion: %v", err)
	}
}

func TestSetStatus_RejectsJobPhaseSelfReport(t *testing.T) {
	gdb := testDB(t)
	for _, status := range []string{StatusAssigned, StatusAccepted, StatusEnRoute, StatusWithPatient} {
		if err := SetStatus(gdb, "w1", status, ""); err == nil {
			t.Errorf("self-report of %s should be rejected", status)
		}
	}
}

func TestHeartbeatUpsertAndDisconnect(t *testing.T) {
	gdb := testDB(t)

	if err := RecordHeartbeat(gdb, "w1", "sess-a"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := RecordHeartbeat(gdb, "w1", "sess-b"); err != nil {
		t.Fatalf("re-heartbeat: %v", err)
	}
	var count int64
	gdb.Model(&models.Heartbeat{}).Count(&count)
	if count != 1 {
		t.Errorf("heartbeat rows = %d, want 1 (upsert)", count)
	}

	// Stale session disconnect must not remove the newer session's row.
	if err := Disconnect(gdb, "w1", "sess-a"); err != nil {
		t.Fatalf("disconnect old: %v", err)
	}
	gdb.Model(&models.Heartbeat{}).Count(&count)
	if count != 1 {
		t.Error("old session disconnect removed the live heartbeat")
	}

	if err := Disconnect(gdb, "w1", "sess-b"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	gdb.Model(&models.Heartbeat{}).Count(&count)
	if count != 0 {
		t.Error("graceful disconnect should delete the heartbeat")
	}
}

func backdateHeartbeat(t *testing.T, gdb *gorm.DB, workerID string, age time.Duration) {
	t.Helper()
	if err := gdb.Model(&models.Heartbeat{}).Where("worker_id = ?", workerID).
		Update("last_seen", time.Now().Add(-age)).Error; err != nil {
		t.Fatal(err)
	}
}

func TestSweepHeartbeats_ForcesOfflineOnce(t *testing.T) {
	gdb := testDB(t)
	var bus eventbus.Recorder

	if err := SetStatus(gdb, "w1", StatusAvailable, ""); err != nil {
		t.Fatal(err)
	}
	if err := RecordHeartbeat(gdb, "w1", "s1"); err != nil {
		t.Fatal(err)
	}
	backdateHeartbeat(t, gdb, "w1", 5*time.Minute)

	if err := SweepHeartbeats(gdb, &bus, 2*time.Minute, alerts.NewDismissals()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if p := loadPresence(t, gdb, "w1"); p.Status != StatusOffline {
		t.Errorf("status = %q, want offline", p.Status)
	}
	if n := len(bus.Events()); n != 1 {
		t.Fatalf("published %d events, want 1", n)
	}

	// Second sweep is a no-op for the already-offline worker.
	if err := SweepHeartbeats(gdb, &bus, 2*time.Minute, alerts.NewDismissals()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n := len(bus.Events()); n != 1 {
		t.Errorf("published %d events after second sweep, want still 1", n)
	}
}

func TestSweepHeartbeats_LeavesFreshAndBusyWorkers(t *testing.T) {
	gdb := testDB(t)
	var bus eventbus.Recorder

	// Fresh heartbeat.
	if err := SetStatus(gdb, "w1", StatusAvailable, ""); err != nil {
		t.Fatal(err)
	}
	if err := RecordHeartbeat(gdb, "w1", "s1"); err != nil {
		t.Fatal(err)
	}

	// Stale heartbeat but mid-job: left alone.
	if err := Mirror(gdb, "w2", StatusWithPatient); err != nil {
		t.Fatal(err)
	}
	if err := RecordHeartbeat(gdb, "w2", "s2"); err != nil {
		t.Fatal(err)
	}
	backdateHeartbeat(t, gdb, "w2", 10*time.Minute)

	if err := SweepHeartbeats(gdb, &bus, 2*time.Minute, alerts.NewDismissals()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(bus.Events()) != 0 {
		t.Errorf("published %d events, want 0", len(bus.Events()))
	}
	if p := loadPresence(t, gdb, "w2"); p.Status != StatusWithPatient {
		t.Errorf("busy worker status = %q, want with_patient", p.Status)
	}
}

func TestSweepHeartbeats_GatedByToggles(t *testing.T) {
	gdb := testDB(t)
	var bus eventbus.Recorder

	if err := SetStatus(gdb, "w1", StatusAvailable, ""); err != nil {
		t.Fatal(err)
	}
	if err := RecordHeartbeat(gdb, "w1", "s1"); err != nil {
		t.Fatal(err)
	}
	backdateHeartbeat(t, gdb, "w1", time.Hour)

	if err := db.SetSetting(gdb, "alert_offline_enabled", "false"); err != nil {
		t.Fatal(err)
	}
	if err := SweepHeartbeats(gdb, &bus, 2*time.Minute, alerts.NewDismissals()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(bus.Events()) != 0 {
		t.Error("disabled offline alert should short-circuit the sweep")
	}
	if p := loadPresence(t, gdb, "w1"); p.Status != StatusAvailable {
		t.Errorf("status = %q, want untouched available", p.Status)
	}

	// Master flag short-circuits too.
	if err := db.SetSetting(gdb, "alert_offline_enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSetting(gdb, "alerts_enabled", "false"); err != nil {
		t.Fatal(err)
	}
	if err := SweepHeartbeats(gdb, &bus, 2*time.Minute, alerts.NewDismissals()); err != nil {
		t.Fatal(err)
	}
	if len(bus.Events()) != 0 {
		t.Error("master toggle off should short-circuit the sweep")
	}
}

func TestSweepBreaks_RecurringAlert(t *testing.T) {
	gdb := testDB(t)
	var bus eventbus.Recorder

	if err := SetStatus(gdb, "w1", StatusOnBreak, ""); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-45 * time.Minute)
	if err := gdb.Model(&models.WorkerPresence{}).Where("worker_id = ?", "w1").
		Update("on_break_since", past).Error; err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := SweepBreaks(gdb, &bus, 30*time.Minute, alerts.NewDismissals()); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	events := bus.Events()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2 (recurring)", len(events))
	}
	ba, ok := events[0].(eventbus.BreakAlert)
	if !ok {
		t.Fatalf("event = %T, want BreakAlert", events[0])
	}
	if ba.WorkerID != "w1" || ba.MinutesOnBreak < 44 {
		t.Errorf("alert = %+v, want w1 with ~45 minutes", ba)
	}

	// Break within the limit stays quiet.
	if err := SetStatus(gdb, "w2", StatusOnBreak, ""); err != nil {
		t.Fatal(err)
	}
	before := len(bus.Events())
	if err := SweepBreaks(gdb, &bus, 30*time.Minute, alerts.NewDismissals()); err != nil {
		t.Fatal(err)
	}
	got := bus.Events()[before:]
	for _, e := range got {
		if alert, ok := e.(eventbus.BreakAlert); ok && alert.WorkerID == "w2" {
			t.Error("fresh break should not alert")
		}
	}
}

func TestSweepBreaks_DismissalSilencesOneWorker(t *testing.T) {
	gdb := testDB(t)
	var bus eventbus.Recorder
	dismissed := alerts.NewDismissals()

	past := time.Now().Add(-45 * time.Minute)
	for _, id := range []string{"w1", "w2"} {
		if err := SetStatus(gdb, id, StatusOnBreak, ""); err != nil {
			t.Fatal(err)
		}
		if err := gdb.Model(&models.WorkerPresence{}).Where("worker_id = ?", id).
			Update("on_break_since", past).Error; err != nil {
			t.Fatal(err)
		}
	}

	dismissed.Dismiss(alerts.KindBreak, "w1")
	if err := SweepBreaks(gdb, &bus, 30*time.Minute, dismissed); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	events := bus.Events()
	if len(events) != 1 {
		t.Fatalf("published %d events, want only the undismissed worker's", len(events))
	}
	if ba := events[0].(eventbus.BreakAlert); ba.WorkerID != "w2" {
		t.Errorf("alert for %s, want w2", ba.WorkerID)
	}

	// Ending the break clears the dismissal; the next overrun alerts again.
	if err := SetStatus(gdb, "w1", StatusAvailable, ""); err != nil {
		t.Fatal(err)
	}
	if err := SweepBreaks(gdb, &bus, 30*time.Minute, dismissed); err != nil {
		t.Fatal(err)
	}
	if dismissed.Dismissed(alerts.KindBreak, "w1") {
		t.Error("dismissal survived the end of the break")
	}

	if err := SetStatus(gdb, "w1", StatusOnBreak, ""); err != nil {
		t.Fatal(err)
	}
	if err := gdb.Model(&models.WorkerPresence{}).Where("worker_id = ?", "w1").
		Update("on_break_since", time.Now().Add(-40*time.Minute)).Error; err != nil {
		t.Fatal(err)
	}
	before := len(bus.Events())
	if err := SweepBreaks(gdb, &bus, 30*time.Minute, dismissed); err != nil {
		t.Fatal(err)
	}
	var sawW1 bool
	for _, e := range bus.Events()[before:] {
		if ba, ok := e.(eventbus.BreakAlert); ok && ba.WorkerID == "w1" {
			sawW1 = true
		}
	}
	if !sawW1 {
		t.Error("new break overrun after a cleared dismissal should alert")
	}
}

func TestSweepHeartbeats_DismissalSuppressesAlertNotForcing(t *testing.T) {
	gdb := testDB(t)
	var bus eventbus.Recorder
	dismissed := alerts.NewDismissals()

	if err := SetStatus(gdb, "w1", StatusAvailable, ""); err != nil {
		t.Fatal(err)
	}
	if err := RecordHeartbeat(gdb, "w1", "s1"); err != nil {
		t.Fatal(err)
	}
	backdateHeartbeat(t, gdb, "w1", 5*time.Minute)

	dismissed.Dismiss(alerts.KindOffline, "w1")
	if err := SweepHeartbeats(gdb, &bus, 2*time.Minute, dismissed); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if p := loadPresence(t, gdb, "w1"); p.Status != StatusOffline {
		t.Errorf("status = %q, want offline regardless of the dismissal", p.Status)
	}
	if len(bus.Events()) != 0 {
		t.Errorf("published %d events, want dismissed alert suppressed", len(bus.Events()))
	}

	// A fresh beat clears the dismissal.
	if err := RecordHeartbeat(gdb, "w1", "s1"); err != nil {
		t.Fatal(err)
	}
	if err := SweepHeartbeats(gdb, &bus, 2*time.Minute, dismissed); err != nil {
		t.Fatal(err)
	}
	if dismissed.Dismissed(alerts.KindOffline, "w1") {
		t.Error("dismissal survived a fresh heartbeat")
	}
}
