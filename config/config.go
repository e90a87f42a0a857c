package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// 后端选择，默认zookeeper
const (
	BackendZookeeper = "zookeeper"
	BackendEtcd      = "etcd"
	BackendMemory    = "memory"
)

// Config 进程启动时读取一次，之后只读，按构造传给需要的组件
type Config struct {
	RpcServerIP   string
	RpcServerPort int

	ZookeeperIP   string
	ZookeeperPort int

	CoordBackend  string
	EtcdEndpoints []string

	LogPath   string
	LogName   string
	LogLevel  int
	LogStdOut bool

	RpcWorkerNum int
}

// RpcAddr 本节点对外发布的rpc地址
func (c *Config) RpcAddr() string {
	return net.JoinHostPort(c.RpcServerIP, strconv.Itoa(c.RpcServerPort))
}

func (c *Config) ZookeeperAddr() string {
	return net.JoinHostPort(c.ZookeeperIP, strconv.Itoa(c.ZookeeperPort))
}

// Load 解析 key=value 配置文件，#开头为注释，空行忽略
func Load(configFile string) (*Config, error) {
	f, err := os.Open(configFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	kvs := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("config %s:%d invalid line %q", configFile, lineNo, line)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		kvs[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return build(configFile, kvs)
}

func build(configFile string, kvs map[string]string) (*Config, error) {
	conf := &Config{
		CoordBackend: BackendZookeeper,
		LogName:      "mprpc",
		LogLevel:     int(3), // info
	}

	var err error
	conf.RpcServerIP = kvs["rpcserverip"]
	if conf.RpcServerIP == "" {
		return nil, fmt.Errorf("config %s missing key rpcserverip", configFile)
	}
	if conf.RpcServerPort, err = parsePort(kvs, "rpcserverport"); err != nil {
		return nil, fmt.Errorf("config %s: %v", configFile, err)
	}
	conf.ZookeeperIP = kvs["zookeeperip"]
	if conf.ZookeeperIP == "" {
		return nil, fmt.Errorf("config %s missing key zookeeperip", configFile)
	}
	if conf.ZookeeperPort, err = parsePort(kvs, "zookeeperport"); err != nil {
		return nil, fmt.Errorf("config %s: %v", configFile, err)
	}

	if v, ok := kvs["coordbackend"]; ok {
		switch v {
		case BackendZookeeper, BackendEtcd, BackendMemory:
			conf.CoordBackend = v
		default:
			return nil, fmt.Errorf("config %s invalid coordbackend %q", configFile, v)
		}
	}
	if v, ok := kvs["etcdendpoints"]; ok && v != "" {
		conf.EtcdEndpoints = strings.Split(v, ",")
	}
	conf.LogPath = kvs["logpath"]
	if v, ok := kvs["logname"]; ok && v != "" {
		conf.LogName = v
	}
	if v, ok := kvs["loglevel"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config %s invalid loglevel %q", configFile, v)
		}
		conf.LogLevel = n
	}
	if v, ok := kvs["logstdout"]; ok {
		conf.LogStdOut = v == "true" || v == "1"
	}
	if v, ok := kvs["rpcworkernum"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("config %s invalid rpcworkernum %q", configFile, v)
		}
		conf.RpcWorkerNum = n
	}
	return conf, nil
}

func parsePort(kvs map[string]string, key string) (int, error) {
	v, ok := kvs[key]
	if !ok {
		return 0, fmt.Errorf("missing key %s", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}
