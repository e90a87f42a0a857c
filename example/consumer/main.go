package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/Gao-Garrix/mprpc/config"
	"github.com/Gao-Garrix/mprpc/coord"
	"github.com/Gao-Garrix/mprpc/coord/etcdstore"
	"github.com/Gao-Garrix/mprpc/coord/memstore"
	"github.com/Gao-Garrix/mprpc/coord/zkstore"
	"github.com/Gao-Garrix/mprpc/example/userpb"
	"github.com/Gao-Garrix/mprpc/mlog"
	"github.com/Gao-Garrix/mprpc/rpc"
)

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
	name := flag.String("n", "alice", "user name")
	pwd := flag.String("p", "pw", "password")
	flag.Parse()

	conf, err := config.Load(*confPath)
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}
	mlog.UseStdLogger(mlog.Level(conf.LogLevel))

	store := newStore(conf)
	if err := store.Start(); err != nil {
		log.Fatalf("coordination store error: %v", err)
	}
	defer store.Close()

	stub := userpb.NewUserServiceStub(rpc.NewChannel(store, nil))
	ctrl := rpc.NewController()
	rsp := stub.Login(ctrl, &userpb.LoginRequest{Name: *name, Pwd: *pwd})
	if ctrl.Failed() {
		fmt.Println("rpc Login failed:", ctrl.ErrorText())
		return
	}
	if rsp.Success {
		fmt.Println("rpc Login success")
	} else {
		fmt.Printf("rpc Login refused: errcode %d, %s\n", rsp.Result.Errcode, rsp.Result.Errmsg)
	}
}
