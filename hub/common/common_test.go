package common

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestErrorCodeMatching(t *testing.T) {
	err := NewError(RetCSlowConsumer, "queue full after %d messages", 256)

	if !HasCode(err, RetCSlowConsumer) {
		t.Fatal("code not matched on the error itself")
	}
	if HasCode(err, RetCMalformedMessage) {
		t.Fatal("wrong code matched")
	}

	// codes survive wrapping
	wrapped := fmt.Errorf("session terminated: %w", err)
	if !HasCode(wrapped, RetCSlowConsumer) {
		t.Fatal("code not matched through wrapping")
	}

	// unrelated errors never match
	if HasCode(fmt.Errorf("plain"), RetCSlowConsumer) {
		t.Fatal("plain error matched a code")
	}
	if HasCode(nil, RetCSlowConsumer) {
		t.Fatal("nil error matched a code")
	}
}

func TestErrorMessageFormat(t *testing.T) {
	err := NewError(RetCUnknownRoom, "no such project %q", "p1")
	want := `HubError (code UnknownRoom): no such project "p1"`
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestMessageTypeJSONRoundTrip(t *testing.T) {
	for mt := MsgTSyncRequest; mt <= MsgTError; mt++ {
		data, err := json.Marshal(mt)
		if err != nil {
			t.Fatalf("marshal %s: %v", mt, err)
		}
		var back MessageType
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != mt {
			t.Fatalf("round trip %s -> %s", mt, back)
		}
	}

	// unknown names are rejected
	var mt MessageType
	if err := json.Unmarshal([]byte(`"bogus"`), &mt); err == nil {
		t.Fatal("expected error for unknown message type name")
	}
}
