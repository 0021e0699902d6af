package server

import (
	"net"

	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"
)

// accessList gates which clients may query at all. Queries from
// outside the configured CIDRs are dropped without a reply.
type accessList struct {
	ranger cidranger.Ranger
}

func newAccessList(cidrs []string) *accessList {
	a := &accessList{ranger: cidranger.NewPCTrieRanger()}

	for _, cidr := range cidrs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			zlog.Error("Access list parse cidr failed", "cidr", cidr, "error", err.Error())
			continue
		}

		_ = a.ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet))
	}

	return a
}

func (a *accessList) allowed(ip net.IP) bool {
	if ip == nil {
		return false
	}

	allowed, err := a.ranger.Contains(ip)
	if err != nil {
		return false
	}

	return allowed
}
