package tds

import (
	"bytes"
)

// System stored procedure IDs used in RPC requests.
const (
	ProcIDCursor          uint16 = 1
	ProcIDCursorOpen      uint16 = 2
	ProcIDCursorPrepare   uint16 = 3
	ProcIDCursorExecute   uint16 = 4
	ProcIDCursorPrepExec  uint16 = 5
	ProcIDCursorUnprepare uint16 = 6
	ProcIDCursorFetch     uint16 = 7
	ProcIDCursorOption    uint16 = 8
	ProcIDCursorClose     uint16 = 9
	ProcIDExecuteSQL      uint16 = 10
	ProcIDPrepare         uint16 = 11
	ProcIDExecute         uint16 = 12
	ProcIDPrepExec        uint16 = 13
	ProcIDPrepExecRPC     uint16 = 14
	ProcIDUnprepare       uint16 = 15
)

// ProcIDName returns the name for a system stored procedure ID.
func ProcIDName(id uint16) string {
	switch id {
	case ProcIDCursor:
		return "sp_cursor"
	case ProcIDCursorOpen:
		return "sp_cursoropen"
	case ProcIDCursorPrepare:
		return "sp_cursorprepare"
	case ProcIDCursorExecute:
		return "sp_cursorexecute"
	case ProcIDCursorPrepExec:
		return "sp_cursorprepexec"
	case ProcIDCursorUnprepare:
		return "sp_cursorunprepare"
	case ProcIDCursorFetch:
		return "sp_cursorfetch"
	case ProcIDCursorOption:
		return "sp_cursoroption"
	case ProcIDCursorClose:
		return "sp_cursorclose"
	case ProcIDExecuteSQL:
		return "sp_executesql"
	case ProcIDPrepare:
		return "sp_prepare"
	case ProcIDExecute:
		return "sp_execute"
	case ProcIDPrepExec:
		return "sp_prepexec"
	case ProcIDPrepExecRPC:
		return "sp_prepexecrpc"
	case ProcIDUnprepare:
		return "sp_unprepare"
	default:
		return "sp_unknown_" + itoa(id)
	}
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var b [5]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	return string(b[i:])
}

// writeAllHeaders emits the ALL_HEADERS envelope that opens SQLBATCH and
// RPC payloads: the total length, then a single type-2 (MARS transaction)
// header carrying the transaction descriptor and the outstanding request
// count.
func writeAllHeaders(buf *bytes.Buffer, transactionDescriptor uint64) {
	PutUint32(buf, 22)                    // total length, including this field
	PutUint32(buf, 18)                    // header length
	PutUint16(buf, 2)                     // type: transaction descriptor
	PutUint64(buf, transactionDescriptor) // current descriptor, 0 outside a transaction
	PutUint32(buf, 1)                     // outstanding requests
}

// SQLBatch is an ad-hoc batch request.
type SQLBatch struct {
	TransactionDescriptor uint64
	SQL                   string
}

// Encode serialises the batch payload: ALL_HEADERS then the UTF-16LE
// statement text.
func (b *SQLBatch) Encode() []byte {
	var buf bytes.Buffer
	writeAllHeaders(&buf, b.TransactionDescriptor)
	buf.Write(StringToUCS2(b.SQL))
	return buf.Bytes()
}

// RPCParam is one parameter of an RPC request. On the wire it is written as
// B_VARCHAR name, status byte, TYPE_INFO, value.
type RPCParam struct {
	Name   string
	Status uint8
	Info   TypeInfo
	Encode ValueEncoder
}

// RPC option flags.
const (
	RPCWithRecomp  uint16 = 0x0001
	RPCNoMetadata  uint16 = 0x0002
	RPCReuseMetadata uint16 = 0x0004
)

// RPCRequest invokes a stored procedure, by well-known ID or by name.
type RPCRequest struct {
	TransactionDescriptor uint64
	ProcID                uint16 // used when ProcName is empty
	ProcName              string
	Options               uint16
	Params                []RPCParam

	// Raw parameter data appended verbatim after Params, already in wire
	// form. This is how pre-encoded argument buffers ride along.
	RawParams []byte
}

// Encode serialises the RPC payload: ALL_HEADERS, the procedure reference
// (US_VARCHAR name, or 0xFFFF + ID), option flags, then each parameter.
func (r *RPCRequest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeAllHeaders(&buf, r.TransactionDescriptor)

	if r.ProcName != "" {
		if err := PutUsVarchar(&buf, r.ProcName); err != nil {
			return nil, err
		}
	} else {
		PutUint16(&buf, 0xFFFF)
		PutUint16(&buf, r.ProcID)
	}

	PutUint16(&buf, r.Options)

	for _, p := range r.Params {
		if err := PutBVarchar(&buf, p.Name); err != nil {
			return nil, err
		}
		buf.WriteByte(p.Status)
		p.Info.Encode(&buf)
		if err := p.Info.WriteValue(&buf, p.Encode); err != nil {
			return nil, err
		}
	}

	buf.Write(r.RawParams)

	return buf.Bytes(), nil
}
