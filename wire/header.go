package wire

import (
	"math"

	"github.com/Gao-Garrix/mprpc/errs"
	"google.golang.org/protobuf/encoding/protowire"
)

// RpcHeader 帧头的结构化记录，按proto3编码:
//
//	message RpcHeader {
//	  string service_name = 1;
//	  string method_name  = 2;
//	  uint32 arg_size     = 3;
//	}
type RpcHeader struct {
	ServiceName string
	MethodName  string
	ArgSize     uint32
}

const (
	fieldServiceName = 1
	fieldMethodName  = 2
	fieldArgSize     = 3
)

func appendHeader(b []byte, h *RpcHeader) []byte {
	if h.ServiceName != "" {
		b = protowire.AppendTag(b, fieldServiceName, protowire.BytesType)
		b = protowire.AppendString(b, h.ServiceName)
	}
	if h.MethodName != "" {
		b = protowire.AppendTag(b, fieldMethodName, protowire.BytesType)
		b = protowire.AppendString(b, h.MethodName)
	}
	if h.ArgSize != 0 {
		b = protowire.AppendTag(b, fieldArgSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.ArgSize))
	}
	return b
}

// ParseHeader 解析header_bytes，未知字段跳过
func ParseHeader(b []byte) (*RpcHeader, error) {
	h := &RpcHeader{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errs.MalformedFrame.Printf("bad header tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldServiceName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, errs.MalformedFrame.Printf("bad service_name: %v", protowire.ParseError(n))
			}
			h.ServiceName = v
			b = b[n:]
		case num == fieldMethodName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, errs.MalformedFrame.Printf("bad method_name: %v", protowire.ParseError(n))
			}
			h.MethodName = v
			b = b[n:]
		case num == fieldArgSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errs.MalformedFrame.Printf("bad arg_size: %v", protowire.ParseError(n))
			}
			if v > math.MaxUint32 {
				return nil, errs.MalformedFrame.Printf("arg_size overflow: %d", v)
			}
			h.ArgSize = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errs.MalformedFrame.Printf("bad header field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return h, nil
}
