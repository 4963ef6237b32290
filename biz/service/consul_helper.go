package service

import (
	"bytes"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulHelper 封装撮合节点的注册与发现。
// 每个节点只负责一部分 funding，tag 即 funding 列表。
type ConsulHelper struct {
	client *api.Client
}

// NewConsulHelperWithAddrs 支持多个 Consul 地址高可用
func NewConsulHelperWithAddrs(addrs []string) (*ConsulHelper, error) {
	var lastErr error
	for _, addr := range addrs {
		cfg := api.DefaultConfig()
		cfg.Address = addr
		cli, err := api.NewClient(cfg)
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := cli.Agent().Self(); err != nil {
			lastErr = err
			continue
		}
		return &ConsulHelper{client: cli}, nil
	}
	return nil, fmt.Errorf("all consul addresses failed: %v", lastErr)
}

// RegisterEngineNode 注册本节点及其负责的 funding 列表
func (c *ConsulHelper) RegisterEngineNode(nodeID string, addr string, fundings []string, port int) error {
	reg := &api.AgentServiceRegistration{
		ID:      nodeID,
		Name:    "rex_match_engine",
		Address: addr,
		Port:    port,
		Tags:    fundings,
		Check: &api.AgentServiceCheck{
			TCP:      fmt.Sprintf("%s:%d", addr, port),
			Interval: "10s",
			Timeout:  "2s",
		},
	}
	return c.client.Agent().ServiceRegister(reg)
}

// DiscoverEngineNode 查询负责某 funding 的节点列表
func (c *ConsulHelper) DiscoverEngineNode(fundingID string) ([]*api.AgentService, error) {
	services, err := c.client.Agent().Services()
	if err != nil {
		return nil, err
	}
	var result []*api.AgentService
	for _, svc := range services {
		if svc.Service != "rex_match_engine" {
			continue
		}
		for _, tag := range svc.Tags {
			if tag == fundingID {
				result = append(result, svc)
				break
			}
		}
	}
	return result, nil
}

// ForwardOrder 把下单请求转发到负责该 funding 的节点，随机选一个做负载均衡
func (c *ConsulHelper) ForwardOrder(fundingID string, body []byte) (*http.Response, error) {
	nodes, err := c.DiscoverEngineNode(fundingID)
	if err != nil || len(nodes) == 0 {
		return nil, fmt.Errorf("no engine node found for funding %s", fundingID)
	}
	node := nodes[rand.Intn(len(nodes))]
	url := fmt.Sprintf("http://%s:%d/orders", node.Address, node.Port)
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}
