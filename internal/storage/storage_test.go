package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"opsbell/internal/alert"
	"opsbell/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("disabled storage must return nil store")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func testRoundTrip(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := st.LoadSettings(ctx); err != nil || found {
		t.Fatalf("LoadSettings on empty store = found=%v err=%v", found, err)
	}

	s := alert.DefaultSettings()
	s.EnableSound = false
	s.Categories[alert.CategoryReminder] = false
	s.QuietHours = alert.QuietHours{Enabled: true, Start: "23:00", End: "07:00"}
	if err := st.SaveSettings(ctx, s); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	got, found, err := st.LoadSettings(ctx)
	if err != nil || !found {
		t.Fatalf("LoadSettings = found=%v err=%v", found, err)
	}
	if got.EnableSound || got.CategoryEnabled(alert.CategoryReminder) {
		t.Fatalf("loaded settings lost overrides: %+v", got)
	}
	if got.QuietHours.Start != "23:00" {
		t.Fatalf("quiet hours = %+v", got.QuietHours)
	}

	// Second save must replace, not duplicate.
	s.EnableSound = true
	if err := st.SaveSettings(ctx, s); err != nil {
		t.Fatalf("SaveSettings (update): %v", err)
	}
	got, _, err = st.LoadSettings(ctx)
	if err != nil || !got.EnableSound {
		t.Fatalf("updated settings not persisted: %+v (%v)", got, err)
	}

	if err := st.AppendDelivery(ctx, DeliveryEntry{
		At:             time.Now(),
		NotificationID: "n-1",
		Category:       "security",
		Priority:       "urgent",
		Decision:       "desktop",
	}); err != nil {
		t.Fatalf("AppendDelivery: %v", err)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "opsbell_store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	testRoundTrip(t, st)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "opsbell.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	testRoundTrip(t, st)

	// Reopen and confirm the snapshot survived.
	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	_, found, err := st.LoadSettings(context.Background())
	if err != nil || !found {
		t.Fatalf("settings did not survive reopen: found=%v err=%v", found, err)
	}
}
