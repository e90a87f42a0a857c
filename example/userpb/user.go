// Package userpb 是schema编译器为user服务产出的stub层的参考形态：
// 消息按proto3线格式编解码，服务/方法描述与stub把调用转发给通道。
package userpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ResultCode 业务结果码
//
//	message ResultCode { int32 errcode = 1; bytes errmsg = 2; }
type ResultCode struct {
	Errcode int32
	Errmsg  string
}

func (m *ResultCode) Marshal() ([]byte, error) {
	var b []byte
	if m.Errcode != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.Errcode)))
	}
	if m.Errmsg != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, m.Errmsg)
	}
	return b, nil
}

func (m *ResultCode) Unmarshal(data []byte) error {
	*m = ResultCode{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Errcode = int32(v)
			data = data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Errmsg = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// LoginRequest 登录请求
//
//	message LoginRequest { bytes name = 1; bytes pwd = 2; }
type LoginRequest struct {
	Name string
	Pwd  string
}

func (m *LoginRequest) Marshal() ([]byte, error) {
	return appendNamePwd(nil, m.Name, m.Pwd), nil
}

func (m *LoginRequest) Unmarshal(data []byte) error {
	name, pwd, err := parseNamePwd(data)
	if err != nil {
		return err
	}
	m.Name, m.Pwd = name, pwd
	return nil
}

// RegisterRequest 注册请求
//
//	message RegisterRequest { bytes name = 1; bytes pwd = 2; }
type RegisterRequest struct {
	Name string
	Pwd  string
}

func (m *RegisterRequest) Marshal() ([]byte, error) {
	return appendNamePwd(nil, m.Name, m.Pwd), nil
}

func (m *RegisterRequest) Unmarshal(data []byte) error {
	name, pwd, err := parseNamePwd(data)
	if err != nil {
		return err
	}
	m.Name, m.Pwd = name, pwd
	return nil
}

func appendNamePwd(b []byte, name, pwd string) []byte {
	if name != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	if pwd != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, pwd)
	}
	return b
}

func parseNamePwd(data []byte) (name, pwd string, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", "", protowire.ParseError(n)
			}
			name = v
			data = data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", "", protowire.ParseError(n)
			}
			pwd = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", "", protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return name, pwd, nil
}

// LoginResponse 登录响应
//
//	message LoginResponse { ResultCode result = 1; bool success = 2; }
type LoginResponse struct {
	Result  *ResultCode
	Success bool
}

func (m *LoginResponse) Marshal() ([]byte, error) {
	return appendResultSuccess(nil, m.Result, m.Success)
}

func (m *LoginResponse) Unmarshal(data []byte) error {
	result, success, err := parseResultSuccess(data)
	if err != nil {
		return err
	}
	m.Result, m.Success = result, success
	return nil
}

// RegisterResponse 注册响应
//
//	message RegisterResponse { ResultCode result = 1; bool success = 2; }
type RegisterResponse struct {
	Result  *ResultCode
	Success bool
}

func (m *RegisterResponse) Marshal() ([]byte, error) {
	return appendResultSuccess(nil, m.Result, m.Success)
}

func (m *RegisterResponse) Unmarshal(data []byte) error {
	result, success, err := parseResultSuccess(data)
	if err != nil {
		return err
	}
	m.Result, m.Success = result, success
	return nil
}

func appendResultSuccess(b []byte, result *ResultCode, success bool) ([]byte, error) {
	if result != nil {
		sub, err := result.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	if success {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b, nil
}

func parseResultSuccess(data []byte) (result *ResultCode, success bool, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, false, protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			sub, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, false, protowire.ParseError(n)
			}
			result = &ResultCode{}
			if err := result.Unmarshal(sub); err != nil {
				return nil, false, fmt.Errorf("result: %w", err)
			}
			data = data[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, false, protowire.ParseError(n)
			}
			success = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, false, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return result, success, nil
}
