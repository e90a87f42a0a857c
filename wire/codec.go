// Package wire 实现调用方与服务方共用的帧编解码。
//
// 帧布局:
//
//	[ header_len : u32 ][ header_bytes : header_len ][ arg_bytes : arg_size ]
//
// 只有header_len是裸整数，字节序默认小端、可配置；header_bytes是proto编码的
// RpcHeader，其中arg_size采用varint，精确往返。响应方向没有帧，整个响应体
// 以对端关闭连接定界。
package wire

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/Gao-Garrix/mprpc/errs"
)

const (
	// LenSize header_len字段占用的字节数
	LenSize = 4

	// MaxHeaderLen / MaxArgSize 畸形输入的安全上限
	MaxHeaderLen = 1 << 24
	MaxArgSize   = 1 << 24
)

// ErrNeedMore 数据不完整，调用方继续积累字节后重试
var ErrNeedMore = errors.New("wire: need more data")

// DefaultByteOrder header_len的默认字节序。来源实现写的是native序，
// 跨机器互通未定义，这里固定为小端
var DefaultByteOrder binary.ByteOrder = binary.LittleEndian

type Codec struct {
	order binary.ByteOrder
}

func NewCodec(order binary.ByteOrder) *Codec {
	if order == nil {
		order = DefaultByteOrder
	}
	return &Codec{order: order}
}

func (c *Codec) ByteOrder() binary.ByteOrder {
	return c.order
}

// Encode 构造一个完整请求帧。超过上限时不产出任何字节
func (c *Codec) Encode(serviceName, methodName string, args []byte) ([]byte, error) {
	if len(args) > MaxArgSize {
		return nil, errs.MalformedFrame.Printf("arg_size %d exceeds cap", len(args))
	}
	header := appendHeader(nil, &RpcHeader{
		ServiceName: serviceName,
		MethodName:  methodName,
		ArgSize:     uint32(len(args)),
	})
	if len(header) > MaxHeaderLen {
		return nil, errs.MalformedFrame.Printf("header_len %d exceeds cap", len(header))
	}
	buf := make([]byte, 0, LenSize+len(header)+len(args))
	var lenBuf [LenSize]byte
	c.order.PutUint32(lenBuf[:], uint32(len(header)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, header...)
	buf = append(buf, args...)
	return buf, nil
}

// EncodeTo 编码后一次写出，调用方要求整帧单次send
func (c *Codec) EncodeTo(w io.Writer, serviceName, methodName string, args []byte) error {
	buf, err := c.Encode(serviceName, methodName, args)
	if err != nil {
		return err
	}
	if _, err = w.Write(buf); err != nil {
		return errs.Transport.Printf("write frame: %v", err)
	}
	return nil
}

// Decode 从buf解析一个完整请求帧。无状态，部分数据返回ErrNeedMore，
// 由调用方负责缓冲。args是buf的子切片，跨协程使用需自行拷贝。
// frameLen是本帧消耗的字节数，buf中多余的字节属于后续数据
func (c *Codec) Decode(buf []byte) (h *RpcHeader, args []byte, frameLen int, err error) {
	if len(buf) < LenSize {
		return nil, nil, 0, ErrNeedMore
	}
	headerLen := c.order.Uint32(buf[:LenSize])
	if headerLen > MaxHeaderLen {
		return nil, nil, 0, errs.MalformedFrame.Printf("header_len %d exceeds cap", headerLen)
	}
	if uint32(len(buf)-LenSize) < headerLen {
		return nil, nil, 0, ErrNeedMore
	}
	h, err = ParseHeader(buf[LenSize : LenSize+int(headerLen)])
	if err != nil {
		return nil, nil, 0, err
	}
	if h.ArgSize > MaxArgSize {
		return nil, nil, 0, errs.MalformedFrame.Printf("arg_size %d exceeds cap", h.ArgSize)
	}
	frameLen = LenSize + int(headerLen) + int(h.ArgSize)
	if len(buf) < frameLen {
		return nil, nil, 0, ErrNeedMore
	}
	args = buf[LenSize+int(headerLen) : frameLen]
	return h, args, frameLen, nil
}
