package wire

import (
	"bytes"
	"fmt"
)

// New returns a zero-valued Message for the given command, or an error if
// the command is not recognized. Callers decode unknown-tail-bytes
// strictly: after Decode, any leftover bytes in the payload are a protocol
// violation (spec §4.1 rule g).
func New(command string) (Message, error) {
	switch command {
	case CmdVersion:
		return &MsgVersion{}, nil
	case CmdVerAck:
		return &MsgVerAck{}, nil
	case CmdPing:
		return &MsgPing{}, nil
	case CmdPong:
		return &MsgPong{}, nil
	case CmdSendDSQ:
		return &MsgSendDSQ{}, nil
	case CmdGetAddr:
		return &MsgGetAddr{}, nil
	case CmdInv:
		return &MsgInv{}, nil
	case CmdGetData:
		return &MsgGetData{}, nil
	case CmdAddr:
		return &MsgAddr{}, nil
	case CmdSpork:
		return &MsgSpork{}, nil
	case CmdGetSporks:
		return &MsgGetSporks{}, nil
	case CmdISLock:
		return &MsgISLock{}, nil
	case CmdDSA:
		return &MsgDSA{}, nil
	case CmdDSI:
		return &MsgDSI{}, nil
	case CmdDSF:
		return &MsgDSF{}, nil
	case CmdDSS:
		return &MsgDSS{}, nil
	case CmdDSC:
		return &MsgDSC{}, nil
	case CmdDSQ:
		return &MsgDSQ{}, nil
	case CmdDSSU:
		return &MsgDSSU{}, nil
	case CmdMNListDiff:
		return &MsgMNListDiff{}, nil
	case CmdGetMNListD:
		return &MsgGetMNListD{}, nil
	case CmdFilterLoad:
		return &MsgFilterLoad{}, nil
	case CmdFilterAdd:
		return &MsgFilterAdd{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown command %q", command)
	}
}

// DecodeStandalone decodes one message out of a full payload, requiring it
// to consume every byte (spec §4.1 rule g).
func DecodeStandalone(command string, payload []byte) (Message, error) {
	msg, err := New(command)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	if err := msg.Decode(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("wire: %d unread trailing bytes in %q payload", r.Len(), command)
	}
	return msg, nil
}
