package dms

import (
	"sync"
	"testing"
)

func TestHolder_UpdateMergesAndSwaps(t *testing.T) {
	h := NewHolder(ClientConfig{Settings: Settings{ChannelID: "chan-1", APIURL: "http://dms"}, Logger: testLogger()})
	before := h.Client()
	if h.Verifier() != nil {
		t.Error("no secret means no verifier")
	}

	got := h.Update(SettingsPatch{Secret: "s3cret"})
	if got.ChannelID != "chan-1" || got.APIURL != "http://dms" || got.Secret != "s3cret" {
		t.Errorf("patch should keep empty fields: %+v", got)
	}
	if h.Client() == before {
		t.Error("update must build a new client")
	}
	if !h.Settings().Complete() {
		t.Error("settings should now be complete")
	}
	if h.Verifier() == nil {
		t.Error("secret set, verifier expected")
	}
}

func TestHolder_ConcurrentUpdates(t *testing.T) {
	h := NewHolder(ClientConfig{Logger: testLogger()})
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); h.Update(SettingsPatch{ChannelID: "c"}) }()
	go func() { defer wg.Done(); h.Update(SettingsPatch{Secret: "s"}) }()
	go func() { defer wg.Done(); h.Update(SettingsPatch{APIURL: "http://dms"}) }()
	wg.Wait()

	if s := h.Settings(); !s.Complete() {
		t.Errorf("no update may be lost: %+v", s)
	}
}
