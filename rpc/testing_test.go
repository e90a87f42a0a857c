package rpc

// 测试共用的消息与服务定义

type textMsg struct {
	s string
}

func (m *textMsg) Marshal() ([]byte, error) {
	return []byte(m.s), nil
}

func (m *textMsg) Unmarshal(data []byte) error {
	m.s = string(data)
	return nil
}

func newTextMsg() Message { return &textMsg{} }

var echoDesc = NewServiceDesc("EchoService",
	&MethodDesc{
		MethodName:  "Say",
		NewRequest:  newTextMsg,
		NewResponse: newTextMsg,
		Handler: func(impl Service, req, rsp Message, done func()) {
			rsp.(*textMsg).s = "echo:" + req.(*textMsg).s
			done()
		},
	},
	&MethodDesc{
		MethodName:  "Twice",
		NewRequest:  newTextMsg,
		NewResponse: newTextMsg,
		Handler: func(impl Service, req, rsp Message, done func()) {
			rsp.(*textMsg).s = "twice:" + req.(*textMsg).s
			done()
			done() // 第二次必须是no-op
		},
	},
)

type echoService struct{}

func (echoService) Descriptor() *ServiceDesc { return echoDesc }
