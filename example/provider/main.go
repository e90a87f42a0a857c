package main

import (
	"context"
	"flag"
	"log"
	"sync"
	"time"

	"github.com/Gao-Garrix/mprpc/app"
	"github.com/Gao-Garrix/mprpc/config"
	"github.com/Gao-Garrix/mprpc/coord"
	"github.com/Gao-Garrix/mprpc/coord/etcdstore"
	"github.com/Gao-Garrix/mprpc/coord/memstore"
	"github.com/Gao-Garrix/mprpc/coord/zkstore"
	"github.com/Gao-Garrix/mprpc/example/userpb"
	"github.com/Gao-Garrix/mprpc/mlog"
	"github.com/Gao-Garrix/mprpc/rpc"
)

// UserServiceImpl 演示用的业务实现，凭据存内存
type UserServiceImpl struct {
	mtx   sync.Mutex
	users map[string]string
}

func NewUserServiceImpl() *UserServiceImpl {
	return &UserServiceImpl{
		users: map[string]string{
			"alice":    "pw",
			"zhangsan": "123456",
		},
	}
}

func (s *UserServiceImpl) Login(req *userpb.LoginRequest, rsp *userpb.LoginResponse) {
	mlog.Infof("Login name:%s", req.Name)
	s.mtx.Lock()
	pwd, ok := s.users[req.Name]
	s.mtx.Unlock()
	if ok && pwd == req.Pwd {
		rsp.Result = &userpb.ResultCode{Errcode: 0, Errmsg: "ok"}
		rsp.Success = true
		return
	}
	rsp.Result = &userpb.ResultCode{Errcode: -1, Errmsg: "login failed: user name or password error!"}
	rsp.Success = false
}

func (s *UserServiceImpl) Register(req *userpb.RegisterRequest, rsp *userpb.RegisterResponse) {
	mlog.Infof("Register name:%s", req.Name)
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.users[req.Name]; ok {
		rsp.Result = &userpb.ResultCode{Errcode: -1, Errmsg: "register failed: user already exists!"}
		rsp.Success = false
		return
	}
	s.users[req.Name] = req.Pwd
	rsp.Result = &userpb.ResultCode{Errcode: 0, Errmsg: "ok"}
	rsp.Success = true
}

// providerModule 把rpc server装进app生命周期
type providerModule struct {
	conf   *config.Config
	store  coord.Store
	server *rpc.Server
}

func (m *providerModule) Name() string { return "user-provider" }

func (m *providerModule) OnInit() error {
	if err := m.store.Start(); err != nil {
		return err
	}
	m.server = rpc.NewServer(m.store, &rpc.ServerOptions{
		NumWorkers: m.conf.RpcWorkerNum,
	})
	return m.server.NotifyService(userpb.NewUserService(NewUserServiceImpl()))
}

func (m *providerModule) Run() {
	if err := m.server.Run(m.conf.RpcServerIP, m.conf.RpcServerPort); err != nil {
		// 绑定失败、协调存储不可用等致命错误，记日志后退出进程
		mlog.Fatalf("rpc server exit with error: %v", err)
	}
}

func (m *providerModule) Destroy() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	m.server.Stop(ctx)
}

func newStore(conf *config.Config) coord.Store {
	switch conf.CoordBackend {
	case config.BackendEtcd:
		return etcdstore.New(&etcdstore.Options{Endpoints: conf.EtcdEndpoints})
	case config.BackendMemory:
		return memstore.New()
	default:
		return zkstore.New(&zkstore.Options{Servers: []string{conf.ZookeeperAddr()}})
	}
}

func main() {
	confPath := flag.String("i", "test.conf", "config file path")
	flag.Parse()

	conf, err := config.Load(*confPath)
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	defer func() {
		cancel()
		wg.Wait()
	}()
	if err := mlog.UseDefaultLogger(ctx, wg, conf.LogPath, conf.LogName, mlog.Level(conf.LogLevel), conf.LogStdOut); err != nil {
		log.Fatalf("init logger error: %v", err)
	}

	a := &app.App{}
	a.Run(&providerModule{conf: conf, store: newStore(conf)})
}
