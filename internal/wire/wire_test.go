package wire

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func TestVarIntBoundaries(t *testing.T) {
	cases := []uint64{0, 1, 252, 253, 254, 65535, 65536, 4294967295, 4294967296}
	for _, v := range cases {
		var buf bytes.Buffer
		if err := WriteVarInt(&buf, v); err != nil {
			t.Fatalf("write %d: %v", v, err)
		}
		got, err := ReadVarInt(&buf)
		if err != nil {
			t.Fatalf("read %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d got %d", v, got)
		}
	}
}

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	var buf bytes.Buffer
	if err := msg.Encode(&buf); err != nil {
		t.Fatalf("encode %s: %v", msg.Command(), err)
	}
	out, err := New(msg.Command())
	if err != nil {
		t.Fatalf("new %s: %v", msg.Command(), err)
	}
	if err := out.Decode(&buf); err != nil {
		t.Fatalf("decode %s: %v", msg.Command(), err)
	}
	if buf.Len() != 0 {
		t.Fatalf("%s: %d unread trailing bytes", msg.Command(), buf.Len())
	}
	return out
}

func TestMessageRoundTrips(t *testing.T) {
	ua := true
	var challenge [32]byte
	version := &MsgVersion{
		Version: 70216, Services: 1, Timestamp: 123, RecvServices: 1,
		Recv: Service{IP: []byte{1, 2, 3, 4}, Port: 9937},
		TransServices: 1, Trans: Service{IP: []byte{5, 6, 7, 8}, Port: 9937},
		Nonce: 42, UserAgent: "/mixcore:1.0/", StartHeight: 100,
		Relay: &ua, MNAuthChallenge: &challenge, FMasternode: &ua,
	}
	got := roundTrip(t, version).(*MsgVersion)
	if got.UserAgent != version.UserAgent || got.Nonce != version.Nonce {
		t.Fatalf("version round trip mismatch: %+v", got)
	}

	roundTrip(t, &MsgVerAck{})
	roundTrip(t, &MsgPing{Nonce: 7})
	roundTrip(t, &MsgPong{Nonce: 7})
	roundTrip(t, &MsgSendDSQ{Send: true})
	roundTrip(t, &MsgGetAddr{})
	roundTrip(t, &MsgGetSporks{})

	inv := &MsgInv{Invs: []InvVect{{Type: InvTx, Hash: chainhash.Hash{1}}}}
	roundTrip(t, inv)

	addr := &MsgAddr{Addrs: []NetAddr{{Timestamp: 1, Services: 1, Service: Service{IP: []byte{1, 1, 1, 1}, Port: 9937}}}}
	roundTrip(t, addr)

	spork := &MsgSpork{ID: 1, Value: 100, TimeSigned: 50, Sig: make([]byte, SporkSigLen)}
	roundTrip(t, spork)

	dsq := &MsgDSQ{Denom: 100001, MasternodeOutpoint: Outpoint{Vout: 1}, Time: 99, Ready: true, Sig: make([]byte, DSQSigLen)}
	gotDSQ := roundTrip(t, dsq).(*MsgDSQ)
	if !gotDSQ.Ready || gotDSQ.Denom != 100001 {
		t.Fatalf("dsq round trip mismatch: %+v", gotDSQ)
	}

	dsc := &MsgDSC{SessionID: 5, MsgID: MsgSuccess}
	roundTrip(t, dsc)

	dssu := &MsgDSSU{SessionID: 5, State: PoolStateSigning, EntriesCount: 3, StatusUpdate: 1, MessageID: 2}
	roundTrip(t, dssu)

	tx := Tx{Version: 3, Inputs: []TxIn{{PrevOut: Outpoint{Vout: 0}, ScriptSig: []byte{0xab}, Sequence: 0xFFFFFFFF}},
		Outputs: []TxOut{{Value: 100001, PkScript: []byte{0x76, 0xa9}}}, LockTime: 0}
	dsa := &MsgDSA{Denom: 100001, CollateralTx: tx}
	roundTrip(t, dsa)

	dsi := &MsgDSI{Inputs: tx.Inputs, CollateralTx: tx, Outputs: tx.Outputs}
	roundTrip(t, dsi)

	dsf := &MsgDSF{SessionID: 1, TxFinal: tx}
	roundTrip(t, dsf)

	dss := &MsgDSS{Inputs: tx.Inputs}
	roundTrip(t, dss)
}

func TestFrameRoundTrip(t *testing.T) {
	magic := [4]byte{0xbf, 0x0c, 0x6b, 0xbd}
	f, err := Encode(magic, &MsgPing{Nonce: 99})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Command != CmdPing {
		t.Fatalf("command = %q", got.Command)
	}
	msg, err := DecodeStandalone(got.Command, got.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if msg.(*MsgPing).Nonce != 99 {
		t.Fatalf("nonce mismatch")
	}
}

func TestEmptyPayloadChecksum(t *testing.T) {
	if checksum(nil) != EmptyPayloadCkSum {
		t.Fatalf("empty payload checksum = %x, want %x", checksum(nil), EmptyPayloadCkSum)
	}
}

func TestBadChecksumDroppedNotDisconnected(t *testing.T) {
	magic := [4]byte{0xbf, 0x0c, 0x6b, 0xbd}
	f, err := Encode(magic, &MsgPing{Nonce: 1})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	// Corrupt one checksum byte (offset 4 magic + 12 cmd + 4 len = 20).
	raw[20] ^= 0xFF
	_, err = ReadFrame(bytes.NewReader(raw))
	if err != ErrBadChecksum {
		t.Fatalf("expected ErrBadChecksum, got %v", err)
	}
}

func TestOversizedPayloadRejectedWithoutAllocating(t *testing.T) {
	var hdr bytes.Buffer
	magic := [4]byte{0xbf, 0x0c, 0x6b, 0xbd}
	hdr.Write(magic[:])
	cmd, _ := encodeCommand(CmdPing)
	hdr.Write(cmd[:])
	// Claim a payload length far beyond the cap; ReadFrame must reject
	// before trying to read (and allocate) that many bytes.
	lenBuf := make([]byte, 4)
	lenBuf[0], lenBuf[1], lenBuf[2], lenBuf[3] = 0xFF, 0xFF, 0xFF, 0x7F
	hdr.Write(lenBuf)
	hdr.Write([]byte{0, 0, 0, 0})
	_, err := ReadFrame(&hdr)
	if err != ErrOversizedPayload {
		t.Fatalf("expected ErrOversizedPayload, got %v", err)
	}
}

func TestOverLimitVectorsRejected(t *testing.T) {
	var buf bytes.Buffer
	// Claim MaxInvCount+1 entries but supply no further bytes; decode must
	// fail on the count check, not on trying to read absent entries.
	if err := WriteVarInt(&buf, MaxInvCount+1); err != nil {
		t.Fatal(err)
	}
	inv := &MsgInv{}
	if err := inv.Decode(&buf); err == nil {
		t.Fatal("expected error for over-limit inv vector")
	}

	var dsiBuf bytes.Buffer
	if err := WriteVarInt(&dsiBuf, MaxDSVecEntries+1); err != nil {
		t.Fatal(err)
	}
	dsi := &MsgDSI{}
	if err := dsi.Decode(&dsiBuf); err == nil {
		t.Fatal("expected error for over-limit dsi vector")
	}

	var addrBuf bytes.Buffer
	if err := WriteVarInt(&addrBuf, MaxAddrCount+1); err != nil {
		t.Fatal(err)
	}
	addr := &MsgAddr{}
	if err := addr.Decode(&addrBuf); err == nil {
		t.Fatal("expected error for over-limit addr vector")
	}
}

func TestSporkSigLenEnforced(t *testing.T) {
	s := &MsgSpork{ID: 1, Value: 1, TimeSigned: 1, Sig: make([]byte, 10)}
	var buf bytes.Buffer
	if err := s.Encode(&buf); err == nil {
		t.Fatal("expected error for bad spork sig length")
	}
}

func TestUserAgentOverLimitRejected(t *testing.T) {
	oversized := make([]byte, MaxUserAgentLen+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	v := &MsgVersion{UserAgent: string(oversized)}
	var buf bytes.Buffer
	if err := v.Encode(&buf); err == nil {
		t.Fatal("expected error for oversized user agent")
	}
}
