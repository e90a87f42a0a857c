package rpc

import (
	"context"
	"hash/fnv"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Gao-Garrix/mprpc/coord"
	"github.com/Gao-Garrix/mprpc/errs"
	"github.com/Gao-Garrix/mprpc/mlog"
	"github.com/Gao-Garrix/mprpc/wire"
	"github.com/panjf2000/gnet/v2"
	"github.com/rs/xid"
)

// ephemeral-sequential广告节点的名字前缀，序号由存储追加
const seqPrefix = "seq-"

// Server rpc服务方：event loop负责收帧，worker协程负责派发，
// 一个连接处理一个请求，写完响应即关闭。服务注册表在Run开始后冻结，
// worker只读不加锁
type Server struct {
	gnet.BuiltinEventEngine
	eng gnet.Engine

	store    coord.Store
	codec    *wire.Codec
	services map[string]*serviceInfo // service name -> service info

	processors []*rpcProcessor
	host       string
	port       int
	opt        *ServerOptions

	started  atomic.Bool
	bootErr  error // OnBoot注册失败的原因，由Run返回
	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
}

type serviceInfo struct {
	impl    Service
	methods map[string]*MethodDesc
}

func NewServer(store coord.Store, opt *ServerOptions) *Server {
	opt = initServerOpt(opt)
	s := &Server{
		store:    store,
		codec:    wire.NewCodec(opt.ByteOrder),
		services: make(map[string]*serviceInfo),
		opt:      opt,
		done:     make(chan struct{}),
	}
	for i := 0; i < opt.NumWorkers; i++ {
		s.processors = append(s.processors, &rpcProcessor{
			server: s,
			inChan: make(chan *rpcTask, opt.WorkerQueueSize),
		})
	}
	return s
}

// NotifyService 登记一个服务，只能在Run之前调用
func (s *Server) NotifyService(svc Service) error {
	sd := svc.Descriptor()
	if sd == nil || sd.ServiceName == "" {
		return errs.Unknown.Print("service descriptor is empty")
	}
	if _, ok := s.services[sd.ServiceName]; ok {
		return errs.DuplicateService.Printf("service:%s", sd.ServiceName)
	}
	info := &serviceInfo{
		impl:    svc,
		methods: make(map[string]*MethodDesc, len(sd.Methods)),
	}
	for _, md := range sd.Methods {
		info.methods[md.MethodName] = md
	}
	s.services[sd.ServiceName] = info
	mlog.Infof("rpc service %s registered, %d methods", sd.ServiceName, len(info.methods))
	return nil
}

// Run 绑定监听、把全部服务发布到协调存储、进入accept循环。
// 只在致命错误或Stop时返回
func (s *Server) Run(host string, port int) error {
	s.host, s.port = host, port
	for i := 0; i < len(s.processors); i++ {
		go s.processors[i].run(s.done)
	}
	defer s.closeDone()
	addr := "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
	if err := gnet.Run(s, addr, gnet.WithOptions(gnet.Options{
		Multicore: s.opt.Multicore,
		ReuseAddr: true,
	})); err != nil {
		return err
	}
	return s.bootErr
}

func (s *Server) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Stop 优雅停机：先关协调会话撤掉服务广告，再停event engine
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.closeDone()
		if s.store != nil {
			s.store.Close()
		}
		if s.started.Load() {
			err = s.eng.Stop(ctx)
		}
	})
	return err
}

// OnBoot 监听已绑定、还未收流量，此时完成服务注册：任何调用方
// 观察到注册节点时，本节点必然已可接受连接。注册失败是致命错误
func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.eng = eng
	if err := s.registerAll(); err != nil {
		mlog.Errorf("rpc server register services err:%v", err)
		s.bootErr = err
		return gnet.Shutdown
	}
	s.started.Store(true)
	mlog.Infof("rpc server listening on %s:%d", s.host, s.port)
	return gnet.None
}

// registerAll 发布 /服务名(persistent) /服务名/方法名(persistent)
// /服务名/方法名/seq-xxx(ephemeral-sequential, data=host:port)
func (s *Server) registerAll() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	for name, info := range s.services {
		svcPath := "/" + name
		if _, err := s.store.Create(svcPath, nil, coord.FlagPersistent); err != nil {
			return err
		}
		for mname := range info.methods {
			methodPath := svcPath + "/" + mname
			if _, err := s.store.Create(methodPath, nil, coord.FlagPersistent); err != nil {
				return err
			}
			actual, err := s.store.Create(methodPath+"/"+seqPrefix, []byte(addr), coord.FlagEphemeralSequential)
			if err != nil {
				return err
			}
			mlog.Infof("rpc advertised %s -> %s", actual, addr)
		}
	}
	return nil
}

type connContext struct {
	id         string
	dispatched bool
}

func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	cc := &connContext{id: xid.New().String()}
	c.SetContext(cc)
	mlog.Debugf("conn %s opened from %s", cc.id, c.RemoteAddr())
	return nil, gnet.None
}

// OnTraffic 增量推进单连接状态机：
// 读header_len -> 读header -> 读args -> 交给worker派发。
// 数据不够就等下一次回调，畸形帧直接断开、不回任何响应
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	cc, _ := c.Context().(*connContext)
	if cc == nil {
		cc = &connContext{id: xid.New().String()}
		c.SetContext(cc)
	}
	if cc.dispatched {
		// 一连接一请求，连接即将关闭，后续字节不再消费
		return gnet.None
	}
	lenBuf, err := c.Peek(wire.LenSize)
	if err != nil {
		return gnet.None
	}
	headerLen := s.codec.ByteOrder().Uint32(lenBuf)
	if headerLen > wire.MaxHeaderLen {
		mlog.Errorf("conn %s malformed frame: header_len %d exceeds cap", cc.id, headerLen)
		return gnet.Close
	}
	if c.InboundBuffered() < wire.LenSize+int(headerLen) {
		return gnet.None
	}
	hdrBuf, err := c.Peek(wire.LenSize + int(headerLen))
	if err != nil {
		return gnet.None
	}
	h, err := wire.ParseHeader(hdrBuf[wire.LenSize:])
	if err != nil {
		mlog.Errorf("conn %s %v", cc.id, err)
		return gnet.Close
	}
	if h.ArgSize > wire.MaxArgSize {
		mlog.Errorf("conn %s malformed frame: arg_size %d exceeds cap", cc.id, h.ArgSize)
		return gnet.Close
	}
	total := wire.LenSize + int(headerLen) + int(h.ArgSize)
	if c.InboundBuffered() < total {
		return gnet.None
	}
	frame, err := c.Next(total)
	if err != nil {
		return gnet.Close
	}
	// event loop的缓冲区离开本回调即失效，参数字节必须拷贝
	args := make([]byte, h.ArgSize)
	copy(args, frame[total-int(h.ArgSize):])
	cc.dispatched = true

	task := &rpcTask{conn: c, connId: cc.id, header: h, args: args}
	// 按对端地址哈希，同一连接固定落在一个worker上
	fh := fnv.New32a()
	fh.Write([]byte(c.RemoteAddr().String()))
	idx := int(fh.Sum32() % uint32(len(s.processors)))
	s.processors[idx].inChan <- task
	return gnet.None
}

func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	if cc, _ := c.Context().(*connContext); cc != nil {
		mlog.Debugf("conn %s closed, err:%v", cc.id, err)
	}
	return gnet.None
}

type rpcTask struct {
	conn   gnet.Conn
	connId string
	header *wire.RpcHeader
	args   []byte
}

type rpcProcessor struct {
	server *Server
	inChan chan *rpcTask
}

func (p *rpcProcessor) run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case t, ok := <-p.inChan:
			if ok {
				p.server.handleRequest(t)
			}
		}
	}
}

// handleRequest 查服务、查方法、构造请求/响应对象、调用服务方法。
// 查找失败没有错误帧可回，记日志后断开连接
func (s *Server) handleRequest(t *rpcTask) {
	info, ok := s.services[t.header.ServiceName]
	if !ok {
		mlog.Errorf("conn %s dispatch err: %v", t.connId,
			errs.UnknownService.Printf("service:%s", t.header.ServiceName))
		t.conn.Close()
		return
	}
	md, ok := info.methods[t.header.MethodName]
	if !ok {
		mlog.Errorf("conn %s dispatch err: %v", t.connId,
			errs.UnknownMethod.Printf("service:%s method:%s", t.header.ServiceName, t.header.MethodName))
		t.conn.Close()
		return
	}
	req := md.NewRequest()
	if err := req.Unmarshal(t.args); err != nil {
		mlog.Errorf("conn %s dispatch err: %v", t.connId,
			errs.Serialization.Printf("unmarshal request of %s/%s: %v", t.header.ServiceName, t.header.MethodName, err))
		t.conn.Close()
		return
	}
	rsp := md.NewResponse()
	md.Handler(info.impl, req, rsp, s.completion(t.conn, t.connId, rsp))
}

// completion 构造单次完成闭包：序列化响应体（响应方向没有帧包装）、
// 写回、关闭连接定界。回调可能从任意协程触发，consumed标志保证至多一次
func (s *Server) completion(c gnet.Conn, connId string, rsp Message) func() {
	consumed := &atomic.Bool{}
	return func() {
		if !consumed.CompareAndSwap(false, true) {
			mlog.Warnf("conn %s completion invoked twice, ignored", connId)
			return
		}
		data, err := rsp.Marshal()
		if err != nil {
			mlog.Errorf("conn %s marshal response err:%v", connId, err)
			c.Close()
			return
		}
		if len(data) == 0 {
			// 全默认值的响应编码为空，调用方会把空响应当作失败；
			// 协议没有响应帧，这里只能关连接
			c.Close()
			return
		}
		err = c.AsyncWrite(data, func(conn gnet.Conn, werr error) error {
			if werr != nil {
				mlog.Errorf("conn %s write response err:%v", connId, werr)
			}
			return conn.Close()
		})
		if err != nil {
			mlog.Errorf("conn %s AsyncWrite err:%v", connId, err)
			c.Close()
		}
	}
}
