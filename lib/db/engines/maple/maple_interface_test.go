package maple

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/tkv/lib/db"
	dbtesting "github.com/ValentinKolb/tkv/lib/db/testing"
)

func newTestDB(quotaBytes int) db.KVDB {
	return NewMapleDB(&DBOptions{NumShards: 4, QuotaBytes: quotaBytes})
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", newTestDB)
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "MapleDB", newTestDB)
}

func TestDefaultQuota(t *testing.T) {
	database := NewMapleDB(nil)
	defer database.Close()

	info := database.GetInfo()
	if info.QuotaBytes != DefaultQuotaBytes {
		t.Errorf("Expected default quota %d, got %d", DefaultQuotaBytes, info.QuotaBytes)
	}
	if !database.SupportsFeature(db.FeatureQuota) {
		t.Errorf("Expected quota feature with default options")
	}

	unlimited := NewMapleDB(&DBOptions{QuotaBytes: 0})
	if unlimited.SupportsFeature(db.FeatureQuota) {
		t.Errorf("Expected no quota feature for QuotaBytes=0")
	}
}

func TestGetInfo(t *testing.T) {
	database := newTestDB(1000)
	defer database.Close()

	_ = database.Set("theme", []byte(`"dark"`))
	_ = database.Set("locale", []byte(`"de-DE"`))

	info := database.GetInfo()
	if info.Entries != 2 {
		t.Errorf("Expected 2 entries, got %d", info.Entries)
	}
	if info.SizeBytes != len("theme")+6+len("locale")+7 {
		t.Errorf("Unexpected size %d", info.SizeBytes)
	}
	if info.DbType != db.ImplMaple {
		t.Errorf("Expected db type %s, got %s", db.ImplMaple, info.DbType)
	}
}

func TestLoadRejectsOtherFormat(t *testing.T) {
	database := newTestDB(0)
	defer database.Close()

	err := database.Load(strings.NewReader("MAPLEDB\x00rest"))
	if err == nil {
		t.Fatal("Expected magic number mismatch")
	}
}
