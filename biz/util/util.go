package util

import (
	"strings"

	"rex-hertz/conf"
)

// IsLocalFunding 判断本节点是否负责该 funding
func IsLocalFunding(fundingID string) bool {
	for _, f := range ParseFundings(conf.GetConf().Engine.Fundings) {
		if f == fundingID {
			return true
		}
	}
	return false
}

// ParseFundings 解析逗号分隔的 funding 列表
func ParseFundings(s string) []string {
	var res []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			res = append(res, p)
		}
	}
	return res
}
