package session

import "testing"

func TestStoreGetOrCreateReusesSession(t *testing.T) {
	st := NewStore()
	id := mkPeerID(0x01)
	a := st.GetOrCreate(id)
	b := st.GetOrCreate(id)
	if a != b {
		t.Fatalf("expected GetOrCreate to return the same session instance")
	}
	if st.Len() != 1 {
		t.Fatalf("expected 1 tracked session, got %d", st.Len())
	}
}

func TestStoreDrop(t *testing.T) {
	st := NewStore()
	id := mkPeerID(0x02)
	st.GetOrCreate(id)
	st.Drop(id)
	if _, ok := st.Get(id); ok {
		t.Fatalf("expected session to be dropped")
	}
}
