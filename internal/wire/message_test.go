package wire

import "testing"

func TestDecodeRoomConfirm(t *testing.T) {
	raw := []byte(`{"event":"room_confirm","data":{"snapshot":{"state":{"pot":42,"turn":"alice"}},"action_id":"c1"}}`)

	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	confirm, ok := msg.(RoomConfirmPayload)
	if !ok {
		t.Fatalf("expected RoomConfirmPayload, got %T", msg)
	}
	if confirm.ActionID != "c1" {
		t.Fatalf("expected action c1, got %s", confirm.ActionID)
	}
	if confirm.Snapshot.State["pot"] != 42.0 {
		t.Fatalf("expected pot 42, got %v", confirm.Snapshot.State["pot"])
	}
}

func TestDecodeTableUpdate(t *testing.T) {
	raw := []byte(`{"event":"table_update","data":{"state":{"pot":10},"winner":"bob"}}`)

	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	update, ok := msg.(TableUpdatePayload)
	if !ok {
		t.Fatalf("expected TableUpdatePayload, got %T", msg)
	}
	if update.Winner != "bob" || update.State["pot"] != 10.0 {
		t.Fatalf("unexpected payload %+v", update)
	}
}

func TestDecodeUnknownEventErrors(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"event":"mystery","data":{}}`)); err == nil {
		t.Fatal("expected error for unknown event type")
	}
	if _, err := DecodeMessage([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestEncodeDecodePlayerMove(t *testing.T) {
	move := PlayerMovePayload{
		TableID:  "table-1",
		ActionID: "c1",
		Move:     []byte(`{"from":5,"to":9}`),
	}

	data, err := Encode(move)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	decoded, ok := msg.(PlayerMovePayload)
	if !ok {
		t.Fatalf("expected PlayerMovePayload, got %T", msg)
	}
	if decoded.TableID != move.TableID || decoded.ActionID != move.ActionID {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if string(decoded.Move) != string(move.Move) {
		t.Fatalf("move payload mismatch: %s", decoded.Move)
	}
}

func TestEncodeRejectsUnmarshalable(t *testing.T) {
	// State containing a channel cannot be marshaled.
	bad := TableUpdatePayload{State: State{"ch": make(chan int)}}
	if _, err := Encode(bad); err == nil {
		t.Fatal("expected encode error for unmarshalable payload")
	}
}
