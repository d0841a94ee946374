package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STALE_AFTER_MINUTES", "")
	t.Setenv("COUNTER_KEEP_LAST", "")
	Load()

	if AppConfig.StaleAfter != 30*time.Minute {
		t.Fatalf("StaleAfter = %v, want 30m", AppConfig.StaleAfter)
	}
	if AppConfig.CounterKeepLast != 100 {
		t.Fatalf("CounterKeepLast = %d, want 100", AppConfig.CounterKeepLast)
	}
	if AppConfig.ImportEventExchange != "import_exchange" {
		t.Fatalf("ImportEventExchange = %q", AppConfig.ImportEventExchange)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("STALE_AFTER_MINUTES", "5")
	t.Setenv("REAP_INTERVAL_SECONDS", "15")
	t.Setenv("DB_HOST", "db.internal")
	Load()

	if AppConfig.DBDriver != "sqlite" {
		t.Fatalf("DBDriver = %q, want sqlite", AppConfig.DBDriver)
	}
	if AppConfig.StaleAfter != 5*time.Minute || AppConfig.ReapInterval != 15*time.Second {
		t.Fatalf("durations = %v/%v", AppConfig.StaleAfter, AppConfig.ReapInterval)
	}
	if want := "host=db.internal"; AppConfig.DBConnStr[:len(want)] != want {
		t.Fatalf("DBConnStr = %q", AppConfig.DBConnStr)
	}
}

func TestGetEnvAsIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	if got := getEnvAsInt("REDIS_DB", 3); got != 3 {
		t.Fatalf("getEnvAsInt = %d, want fallback 3", got)
	}
}
