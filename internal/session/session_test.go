package session

import (
	"testing"
	"time"

	"github.com/gnupg/payproc/internal/keyvalue"
)

func TestCreateAndGet(t *testing.T) {
	s := New()

	dict := keyvalue.New()
	dict.Set("foo", "bar")

	id, err := s.Create(0, dict)
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 32 {
		t.Errorf("session id length = %d, want 32", len(id))
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := got.Get("foo"); v != "bar" {
		t.Errorf("got foo=%q, want bar", v)
	}
}

func TestPutEmptyValueDeletes(t *testing.T) {
	s := New()
	dict := keyvalue.New()
	dict.Set("foo", "bar")
	id, err := s.Create(0, dict)
	if err != nil {
		t.Fatal(err)
	}

	del := keyvalue.New()
	del.Set("foo", "")
	if err := s.Put(id, del); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Has("foo") {
		t.Error("expected foo to be deleted")
	}
}

func TestGetUnknownSession(t *testing.T) {
	s := New()
	if _, err := s.Get("yyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyy"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestDestroy(t *testing.T) {
	s := New()
	id, err := s.Create(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Destroy(id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(id); err == nil {
		t.Error("expected session to be gone after destroy")
	}
}

func TestAliasLifecycle(t *testing.T) {
	s := New()
	id, err := s.Create(0, nil)
	if err != nil {
		t.Fatal(err)
	}

	aliasID, err := s.CreateAlias(id)
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := s.SessID(aliasID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != id {
		t.Errorf("resolved sessid = %q, want %q", resolved, id)
	}

	if err := s.DestroyAlias(aliasID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SessID(aliasID); err == nil {
		t.Error("expected error resolving destroyed alias")
	}
}

func TestAliasLimitReached(t *testing.T) {
	s := New()
	id, err := s.Create(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < MaxAliasesPerSession; i++ {
		if _, err := s.CreateAlias(id); err != nil {
			t.Fatalf("alias %d: %v", i, err)
		}
	}
	if _, err := s.CreateAlias(id); err == nil {
		t.Error("expected limit reached error on 4th alias")
	}
}

func TestDestroyingSessionDestroysAliases(t *testing.T) {
	s := New()
	id, err := s.Create(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	aliasID, err := s.CreateAlias(id)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Destroy(id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SessID(aliasID); err == nil {
		t.Error("expected alias to be gone after session destroy")
	}
}

func TestDestroyingSessionDestroysAllAliases(t *testing.T) {
	s := New()
	id, err := s.Create(0, nil)
	if err != nil {
		t.Fatal(err)
	}

	var aliasIDs []string
	for i := 0; i < 3; i++ {
		aliasID, err := s.CreateAlias(id)
		if err != nil {
			t.Fatal(err)
		}
		aliasIDs = append(aliasIDs, aliasID)
	}

	if err := s.Destroy(id); err != nil {
		t.Fatal(err)
	}
	for i, aliasID := range aliasIDs {
		if _, err := s.SessID(aliasID); err == nil {
			t.Errorf("alias %d (%s) survived session destroy", i, aliasID)
		}
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New()
	id, err := s.Create(10*time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := s.Get(id); err == nil {
		t.Error("expected expired session to be rejected")
	}
}

func TestHousekeepingRemovesExpired(t *testing.T) {
	s := New()
	if _, err := s.Create(5*time.Millisecond, nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(15 * time.Millisecond)

	removed := s.Housekeeping()
	if removed != 1 {
		t.Errorf("Housekeeping removed %d, want 1", removed)
	}

	sessions, _ := s.Stats()
	if sessions != 0 {
		t.Errorf("sessions after housekeeping = %d, want 0", sessions)
	}
}

func TestTTLCappedAtMaxLifetime(t *testing.T) {
	s := New()
	id, err := s.Create(100*time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}
	a, b, _ := bucketIndex(id)
	sess := s.sessions[a][b][id]
	if sess.ttl != MaxLifetime {
		t.Errorf("ttl = %v, want capped at %v", sess.ttl, MaxLifetime)
	}
}
