package handler

import (
	"rex-hertz/biz/dal/pg"
	"rex-hertz/biz/service"
)

// 包级服务实例，启动时由 main 注入
var (
	orderSvc     *service.OrderService
	assetSvc     *service.AssetService
	allocSvc     *service.AllocationService
	projector    *service.Projector
	ledger       pg.LedgerStore
	fundingStore *pg.FundingStore
)

func Init(order *service.OrderService, asset *service.AssetService, alloc *service.AllocationService,
	proj *service.Projector, l pg.LedgerStore, fs *pg.FundingStore) {
	orderSvc = order
	assetSvc = asset
	allocSvc = alloc
	projector = proj
	ledger = l
	fundingStore = fs
}
