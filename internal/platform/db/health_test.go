package db

import (
	"testing"
	"time"
)

func TestTallySchema(t *testing.T) {
	now := time.Now()
	statuses := []MigrationStatus{
		{Version: 1, Name: "001_core.sql", Applied: true, AppliedAt: &now},
		{Version: 2, Name: "002_discovery.sql", Applied: true, AppliedAt: &now},
		{Version: 3, Name: "003_indexes.sql"},
	}

	s := tallySchema(statuses)
	if s.Applied != 2 {
		t.Errorf("expected 2 applied, got %d", s.Applied)
	}
	if s.Pending != 1 {
		t.Errorf("expected 1 pending, got %d", s.Pending)
	}
	if s.LatestVersion != 2 {
		t.Errorf("expected latest version 2, got %d", s.LatestVersion)
	}
	if s.LatestName != "002_discovery.sql" {
		t.Errorf("expected latest name 002_discovery.sql, got %s", s.LatestName)
	}
}

func TestTallySchema_FullyMigrated(t *testing.T) {
	now := time.Now()
	s := tallySchema([]MigrationStatus{
		{Version: 1, Name: "001_core.sql", Applied: true, AppliedAt: &now},
	})
	if s.Pending != 0 {
		t.Errorf("expected no pending migrations, got %d", s.Pending)
	}
	if s.LatestVersion != 1 {
		t.Errorf("expected latest version 1, got %d", s.LatestVersion)
	}
}

func TestTallySchema_Empty(t *testing.T) {
	s := tallySchema(nil)
	if s.Applied != 0 || s.Pending != 0 || s.LatestVersion != 0 {
		t.Errorf("expected zero stats, got %+v", s)
	}
}
