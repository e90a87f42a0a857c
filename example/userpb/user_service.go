package userpb

import (
	"github.com/Gao-Garrix/mprpc/rpc"
)

// UserServiceHandler 服务方要实现的业务接口
type UserServiceHandler interface {
	Login(req *LoginRequest, rsp *LoginResponse)
	Register(req *RegisterRequest, rsp *RegisterResponse)
}

// UserService 服务描述，运行期只读
var UserService = rpc.NewServiceDesc("UserService",
	&rpc.MethodDesc{
		MethodName:  "Login",
		NewRequest:  func() rpc.Message { return &LoginRequest{} },
		NewResponse: func() rpc.Message { return &LoginResponse{} },
		Handler: func(impl rpc.Service, req, rsp rpc.Message, done func()) {
			impl.(*userService).h.Login(req.(*LoginRequest), rsp.(*LoginResponse))
			done()
		},
	},
	&rpc.MethodDesc{
		MethodName:  "Register",
		NewRequest:  func() rpc.Message { return &RegisterRequest{} },
		NewResponse: func() rpc.Message { return &RegisterResponse{} },
		Handler: func(impl rpc.Service, req, rsp rpc.Message, done func()) {
			impl.(*userService).h.Register(req.(*RegisterRequest), rsp.(*RegisterResponse))
			done()
		},
	},
)

type userService struct {
	h UserServiceHandler
}

func (s *userService) Descriptor() *rpc.ServiceDesc {
	return UserService
}

// NewUserService 把业务实现包成可登记到Server的服务对象
func NewUserService(h UserServiceHandler) rpc.Service {
	return &userService{h: h}
}

// UserServiceStub 调用方代理，方法转发给通道
type UserServiceStub struct {
	ch rpc.CallChannel
}

func NewUserServiceStub(ch rpc.CallChannel) *UserServiceStub {
	return &UserServiceStub{ch: ch}
}

func (s *UserServiceStub) Login(ctrl *rpc.Controller, req *LoginRequest) *LoginResponse {
	rsp := &LoginResponse{}
	s.ch.CallMethod(UserService.Method("Login"), ctrl, req, rsp, nil)
	return rsp
}

func (s *UserServiceStub) Register(ctrl *rpc.Controller, req *RegisterRequest) *RegisterResponse {
	rsp := &RegisterResponse{}
	s.ch.CallMethod(UserService.Method("Register"), ctrl, req, rsp, nil)
	return rsp
}
