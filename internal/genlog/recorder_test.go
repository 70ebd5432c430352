package genlog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/modo-studio/modo-dispatch/internal/db"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

func newTestRecorder(t *testing.T) (*Recorder, *gorm.DB) {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "genlog-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.CreditAccount{}, &models.Generation{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewRecorder(conn), conn
}

func TestRecord_PersistsAttempts(t *testing.T) {
	recorder, conn := newTestRecorder(t)

	recorder.Record(context.Background(), Record{
		RequestID: "req-1",
		AccountID: 42,
		Tier:      models.TierCreator,
		Modality:  models.ModalityText,
		Status:    models.GenerationStatusSucceeded,
		Attempts: []Attempt{
			{ModelID: 1, Model: "gpt-5", Provider: "openai", Outcome: "failed", Reason: "upstream status 503", LatencyMillis: 120},
		},
		CreditsCharged: 10,
		RequestedAt:    time.Now().UTC(),
	})

	var row models.Generation
	if errFind := conn.Where("request_id = ?", "req-1").First(&row).Error; errFind != nil {
		t.Fatalf("find record: %v", errFind)
	}
	if row.AccountID != 42 || row.CreditsCharged != 10 {
		t.Fatalf("unexpected row %+v", row)
	}

	var attempts []Attempt
	if errDecode := json.Unmarshal(row.Attempts, &attempts); errDecode != nil {
		t.Fatalf("decode attempts: %v", errDecode)
	}
	if len(attempts) != 1 || attempts[0].Provider != "openai" {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
}

func TestRecord_SwallowsDuplicateRequestID(t *testing.T) {
	recorder, conn := newTestRecorder(t)

	for i := 0; i < 2; i++ {
		recorder.Record(context.Background(), Record{
			RequestID:   "req-dup",
			AccountID:   1,
			Tier:        models.TierTrial,
			Modality:    models.ModalityText,
			Status:      models.GenerationStatusFailed,
			RequestedAt: time.Now().UTC(),
		})
	}

	var count int64
	if errCount := conn.Model(&models.Generation{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected duplicate insert to be dropped, got %d rows", count)
	}
}

func TestListByAccount(t *testing.T) {
	recorder, _ := newTestRecorder(t)

	for i := 0; i < 5; i++ {
		recorder.Record(context.Background(), Record{
			RequestID:   "req-" + string(rune('a'+i)),
			AccountID:   7,
			Tier:        models.TierStudio,
			Modality:    models.ModalityImage,
			Status:      models.GenerationStatusSucceeded,
			RequestedAt: time.Now().UTC(),
		})
	}
	recorder.Record(context.Background(), Record{
		RequestID:   "req-other",
		AccountID:   8,
		Tier:        models.TierTrial,
		Modality:    models.ModalityText,
		Status:      models.GenerationStatusFailed,
		RequestedAt: time.Now().UTC(),
	})

	rows, err := recorder.ListByAccount(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(rows))
	}
	if rows[0].RequestID != "req-e" {
		t.Fatalf("expected newest first, got %q", rows[0].RequestID)
	}
	for _, row := range rows {
		if row.AccountID != 7 {
			t.Fatalf("expected only account 7 rows, got %+v", row)
		}
	}
}
