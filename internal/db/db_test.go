package db

import (
	"strings"
	"testing"

	"github.com/zulandar/shoprelay/internal/config"
	"github.com/zulandar/shoprelay/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("ConnectSQLite: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return gormDB
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "discrete fields",
			cfg:  config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, User: "root", Name: "shoprelay"},
			want: "root@tcp(127.0.0.1:3306)/shoprelay?",
		},
		{
			name: "with password",
			cfg:  config.DatabaseConfig{Host: "db.internal", Port: 3307, User: "relay", Password: "pw", Name: "relay"},
			want: "relay:pw@tcp(db.internal:3307)/relay?",
		},
		{
			name: "explicit dsn wins",
			cfg:  config.DatabaseConfig{DSN: "u:p@tcp(h:1)/d", Host: "ignored", Name: "ignored"},
			want: "u:p@tcp(h:1)/d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("DSN() = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "unsupported driver")
	}
}

func TestOpen_SQLite(t *testing.T) {
	gormDB, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gormDB.Migrator().HasTable(m) {
			t.Errorf("table for %T was not created", m)
		}
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 7 {
		t.Errorf("AllModels() returned %d models, want 7", got)
	}
}

func TestSeedShops_InsertAndUpdate(t *testing.T) {
	gormDB := openTestDB(t)
	off := false
	shops := []config.ShopConfig{
		{Name: "isupply", ShopifyDomain: "https://a.example/graphql", MetaPageID: "1", TelegramBotToken: "77:tok"},
		{Name: "quiet", ShopifyDomain: "https://b.example/graphql", MetaPageID: "2", AutoReply: &off},
	}
	if err := SeedShops(gormDB, shops); err != nil {
		t.Fatalf("SeedShops: %v", err)
	}

	var got models.Shop
	if err := gormDB.Where("name = ?", "isupply").First(&got).Error; err != nil {
		t.Fatalf("load shop: %v", err)
	}
	if got.TelegramBotID != "77" {
		t.Errorf("TelegramBotID = %q, want %q", got.TelegramBotID, "77")
	}
	if !got.AutoReplyEnabled {
		t.Error("AutoReplyEnabled = false, want true")
	}

	var quiet models.Shop
	gormDB.Where("name = ?", "quiet").First(&quiet)
	if quiet.AutoReplyEnabled {
		t.Error("quiet.AutoReplyEnabled = true, want false")
	}

	// Pause state survives a reseed; credentials are refreshed.
	gormDB.Model(&models.Shop{}).Where("id = ?", got.ID).Update("agent_paused", true)
	shops[0].MetaPageAccessToken = "new-token"
	if err := SeedShops(gormDB, shops); err != nil {
		t.Fatalf("SeedShops (second): %v", err)
	}

	var count int64
	gormDB.Model(&models.Shop{}).Count(&count)
	if count != 2 {
		t.Errorf("shop count = %d, want 2", count)
	}
	var reseeded models.Shop
	gormDB.First(&reseeded, got.ID)
	if reseeded.MetaPageAccessToken != "new-token" {
		t.Errorf("MetaPageAccessToken = %q, want %q", reseeded.MetaPageAccessToken, "new-token")
	}
	if !reseeded.AgentPaused {
		t.Error("AgentPaused reset by reseed, want preserved")
	}
}

func TestDSN_ParseTime(t *testing.T) {
	got := DSN(config.DatabaseConfig{Host: "h", Port: 3306, User: "u", Name: "d"})
	if !strings.Contains(got, "parseTime=true") {
		t.Errorf("DSN() = %q, want parseTime=true", got)
	}
}
