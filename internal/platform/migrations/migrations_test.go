package migrations

import (
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
)

func readUp(t *testing.T, version uint) string {
	t.Helper()
	src, err := Source()
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	defer src.Close()

	r, _, err := src.ReadUp(version)
	if err != nil {
		t.Fatalf("ReadUp(%d) error = %v", version, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	return string(data)
}

func TestSourceIsContiguousWithDowns(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		t.Fatalf("First() error = %v", err)
	}
	if v != 1 {
		t.Fatalf("First() = %d, want 1", v)
	}

	var versions []uint
	for {
		versions = append(versions, v)
		down, _, err := src.ReadDown(v)
		if err != nil {
			t.Errorf("ReadDown(%d) error = %v", v, err)
		} else {
			down.Close()
		}

		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			t.Fatalf("Next(%d) error = %v", v, err)
		}
		if next != v+1 {
			t.Errorf("Next(%d) = %d, want %d", v, next, v+1)
		}
		v = next
	}

	if len(versions) != 4 {
		t.Errorf("versions = %v, want 4 migrations", versions)
	}
}

func TestSchemaDefinesTables(t *testing.T) {
	sql := readUp(t, 1)
	for _, table := range []string{"profiles", "posts", "exchanges", "verification_requests"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("initial migration missing table %s", table)
		}
	}
	if !strings.Contains(sql, "CHECK (helper_id <> requester_id)") {
		t.Error("exchanges must require distinct participants")
	}
	if !strings.Contains(sql, "WHERE status IN ('pending', 'accepted')") {
		t.Error("open exchange uniqueness index missing")
	}
}

func TestExchangeRules(t *testing.T) {
	sql := readUp(t, 2)
	for _, want := range []string{
		"CREATE OR REPLACE FUNCTION increment_trust_level(user_id UUID)",
		"OLD.status = 'pending' AND NEW.status IN ('accepted', 'cancelled')",
		"OLD.status = 'accepted' AND NEW.status IN ('completed', 'cancelled')",
		"USING ERRCODE = 'check_violation'",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("migration 2 missing %q", want)
		}
	}
}

func TestChangeFeedChannel(t *testing.T) {
	sql := readUp(t, 3)
	// must match the channel the postgres gateway listens on
	if !strings.Contains(sql, "pg_notify('mutualaid_changes'") {
		t.Error("notify trigger publishes on the wrong channel")
	}
}

func TestTrustIncrementCreatesMissingProfile(t *testing.T) {
	sql := readUp(t, 4)
	for _, want := range []string{
		"INSERT INTO profiles (id, trust_level)",
		"ON CONFLICT (id) DO UPDATE",
		"SET trust_level = profiles.trust_level + 1",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("migration 4 missing %q", want)
		}
	}
}
