package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

type failingPayload struct{}

func (failingPayload) MarshalJSON() ([]byte, error) {
	return nil, errors.New("marshal failure")
}

func TestChangePayloadDefinedAndEmpty(t *testing.T) {
	var undefined ChangePayload
	if undefined.Defined() || !undefined.IsEmpty() || undefined.Raw() != nil {
		t.Fatalf("expected zero payload to be undefined and empty")
	}
	empty := NewChangePayload(nil)
	if !empty.Defined() || !empty.IsEmpty() {
		t.Fatalf("expected nil payload to be defined but empty")
	}
	raw := json.RawMessage(`{"id":"123"}`)
	defined := NewChangePayload(raw)
	if defined.IsEmpty() {
		t.Fatalf("expected payload to carry bytes")
	}
	if got := defined.Raw(); string(got) != string(raw) {
		t.Fatalf("expected %s, got %s", raw, got)
	}
}

func TestChangePayloadRawIsCloned(t *testing.T) {
	raw := json.RawMessage(`{"id":"cloned"}`)
	payload := NewChangePayload(raw)
	raw[2] = 'X'

	first := payload.Raw()
	first[2] = 'Y'
	if second := payload.Raw(); string(second) != `{"id":"cloned"}` {
		t.Fatalf("expected stored payload to remain unchanged, got %s", second)
	}
}

func TestPayloadOfRoundTripsItem(t *testing.T) {
	item := Item{Base: Base{ID: "item-1"}, FailureMode: "seal leak", Severity: 7, Occurrence: 3, Detection: 2}
	item.Recompute()
	payload, err := PayloadOf(item)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	got, ok, err := DecodePayload[Item](payload)
	if err != nil || !ok {
		t.Fatalf("decode payload: ok=%v err=%v", ok, err)
	}
	if got.ID != "item-1" || got.RPN != 42 {
		t.Fatalf("unexpected decoded item: %+v", got)
	}
	if _, err := PayloadOf(failingPayload{}); err == nil {
		t.Fatalf("expected marshal error for failing payload")
	}
}

func TestChangePayloadMarshalsEmptyAsNull(t *testing.T) {
	data, err := json.Marshal(struct {
		Before ChangePayload `json:"before"`
	}{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"before":null}` {
		t.Fatalf("unexpected encoding %s", data)
	}
	if _, ok, err := DecodePayload[Item](ChangePayload{}); ok || err != nil {
		t.Fatalf("expected empty decode to report not ok")
	}
}
