package registry

import (
	"net"
	"strconv"
	"sync"

	"PPSignal/logger"
	"PPSignal/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

const (
	DefaultGroup   = "DEFAULT_GROUP"
	DefaultCluster = "DEFAULT"
)

// Naming naming_client.INamingClient 中用到的部分
type Naming interface {
	RegisterInstance(param vo.RegisterInstanceParam) (bool, error)
	DeregisterInstance(param vo.DeregisterInstanceParam) (bool, error)
}

// NewNacosNaming 建立 nacos 命名客户端
func NewNacosNaming(param vo.NacosClientParam) (Naming, error) {
	client, err := clients.NewNamingClient(param)
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos naming client")
	}
	return client, nil
}

// Instance 本节点对外登记的地址
type Instance struct {
	Service  string
	Group    string
	IP       string
	Port     uint64
	Metadata map[string]string
}

// Registrar 临时实例：进程退出或心跳停止后由 nacos 摘除
type Registrar struct {
	naming Naming
	inst   Instance

	mu         sync.Mutex
	registered bool
}

func NewRegistrar(naming Naming, inst Instance) *Registrar {
	if inst.Group == "" {
		inst.Group = DefaultGroup
	}
	return &Registrar{naming: naming, inst: inst}
}

func (r *Registrar) Instance() Instance { return r.inst }

func (r *Registrar) Register() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered {
		return nil
	}
	ok, err := r.naming.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          r.inst.IP,
		Port:        r.inst.Port,
		ServiceName: r.inst.Service,
		GroupName:   r.inst.Group,
		ClusterName: DefaultCluster,
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    r.inst.Metadata,
	})
	if err != nil {
		return errs.WrapMsg(err, "register instance", "service", r.inst.Service)
	}
	if !ok {
		return errs.New("register instance returned false", "service", r.inst.Service)
	}
	r.registered = true
	logger.Info("[registry] registered", zap.String("service", r.inst.Service), zap.String("ip", r.inst.IP), zap.Uint64("port", r.inst.Port))
	return nil
}

// Deregister 未登记时什么也不做
func (r *Registrar) Deregister() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.registered {
		return nil
	}
	_, err := r.naming.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          r.inst.IP,
		Port:        r.inst.Port,
		ServiceName: r.inst.Service,
		GroupName:   r.inst.Group,
		Cluster:     DefaultCluster,
		Ephemeral:   true,
	})
	if err != nil {
		return errs.WrapMsg(err, "deregister instance", "service", r.inst.Service)
	}
	r.registered = false
	return nil
}

// AdvertiseAddr 由监听地址得到对外登记的 ip:port；ip 为空时取第一块非回环 IPv4
func AdvertiseAddr(listen, ip string) (string, uint64, error) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return "", 0, errs.WrapMsg(err, "parse listen addr", "addr", listen)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, errs.ErrInvalidArgument.WrapMsg("listen addr needs a fixed port", "addr", listen)
	}
	if ip == "" && host != "" && host != "0.0.0.0" && host != "::" {
		ip = host
	}
	if ip == "" {
		if ip, err = firstIPv4(); err != nil {
			return "", 0, err
		}
	}
	return ip, port, nil
}

var interfaceAddrs = net.InterfaceAddrs

func firstIPv4() (string, error) {
	addrs, err := interfaceAddrs()
	if err != nil {
		return "", errs.WrapMsg(err, "list interface addrs")
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", errs.ErrNotFound.WrapMsg("no non-loopback ipv4 address")
}
