package rpc

import (
	"io"
	"net"
	"sort"
	"strconv"

	"github.com/Gao-Garrix/mprpc/coord"
	"github.com/Gao-Garrix/mprpc/errs"
	"github.com/Gao-Garrix/mprpc/mlog"
	"github.com/Gao-Garrix/mprpc/wire"
)

// Channel stub背后的调用通道：查协调存储定位endpoint、建连、发一帧、
// 读响应到对端关闭。每次调用独立建连，多协程并发调用互不共享连接。
// 所有失败都落在Controller上，本方法从不panic
type Channel struct {
	store coord.Store
	codec *wire.Codec
	opt   *ChannelOptions
}

func NewChannel(store coord.Store, opt *ChannelOptions) *Channel {
	opt = initChannelOpt(opt)
	return &Channel{
		store: store,
		codec: wire.NewCodec(opt.ByteOrder),
		opt:   opt,
	}
}

// CallMethod 同步调用：done（如果给了）在结果就绪后、返回前触发。
// 调用方必须先看ctrl.Failed()再碰rsp
func (ch *Channel) CallMethod(md *MethodDesc, ctrl *Controller, req, rsp Message, done func()) {
	defer func() {
		if done != nil {
			done()
		}
	}()

	serviceName := md.Service().ServiceName
	methodName := md.MethodName
	methodPath := "/" + serviceName + "/" + methodName

	addr, cerr := ch.resolve(methodPath)
	if cerr != nil {
		ctrl.SetFailed(cerr.Error())
		return
	}
	payload, err := req.Marshal()
	if err != nil {
		ctrl.SetFailed(errs.Serialization.Printf("marshal request of %s: %v", methodPath, err).Error())
		return
	}

	conn, err := net.DialTimeout("tcp", addr, ch.opt.DialTimeout)
	if err != nil {
		ctrl.SetFailed(errs.Transport.Printf("connect %s for %s: %v", addr, methodPath, err).Error())
		return
	}
	defer conn.Close()

	if err = ch.codec.EncodeTo(conn, serviceName, methodName, payload); err != nil {
		ctrl.SetFailed(errs.WrapError(err).Printf("send %s", methodPath).Error())
		return
	}

	// 响应没有帧，读到对端关闭为止
	body, err := io.ReadAll(conn)
	if err != nil {
		ctrl.SetFailed(errs.Transport.Printf("read response of %s: %v", methodPath, err).Error())
		return
	}
	if len(body) == 0 {
		// 服务方派发失败时只关连接不回包，这里表现为transport失败
		ctrl.SetFailed(errs.Transport.Printf("%s: connection closed without a response", methodPath).Error())
		return
	}
	if err = rsp.Unmarshal(body); err != nil {
		ctrl.SetFailed(errs.Serialization.Printf("unmarshal response of %s: %v", methodPath, err).Error())
		return
	}
	mlog.Debugf("rpc call %s ok, %d bytes response", methodPath, len(body))
}

// resolve 定位方法的endpoint：取/服务名/方法名下字典序最小的子节点，
// 没有子节点时退回读方法节点本身的数据
func (ch *Channel) resolve(methodPath string) (string, errs.CodeError) {
	children, err := ch.store.Children(methodPath)
	if err != nil || len(children) == 0 {
		if data, derr := ch.store.GetData(methodPath, false); derr == nil {
			if addr, ok := parseEndpoint(data); ok {
				return addr, nil
			}
		}
		return "", errs.DiscoveryMiss.Printf("%s not found in coordination store", methodPath)
	}
	sort.Strings(children)
	child := methodPath + "/" + children[0]
	data, err := ch.store.GetData(child, false)
	if err != nil {
		return "", errs.DiscoveryMiss.Printf("%s not found in coordination store: %v", child, err)
	}
	addr, ok := parseEndpoint(data)
	if !ok {
		return "", errs.DiscoveryMiss.Printf("%s data %q is not host:port", child, data)
	}
	return addr, nil
}

func parseEndpoint(data []byte) (string, bool) {
	addr := string(data)
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return "", false
	}
	if _, err = strconv.Atoi(port); err != nil {
		return "", false
	}
	return addr, true
}
