package service

import (
	"errors"
)

// 下单前校验失败，4xx，不入队不重试
var (
	ErrInvalidSide      = errors.New("invalid order side")
	ErrInvalidPrice     = errors.New("invalid order price")
	ErrInvalidQuantity  = errors.New("invalid order quantity")
	ErrMarketClosed     = errors.New("outside trading hours")
	ErrFundingNotFound  = errors.New("funding not found")
	ErrFundingNotOpen   = errors.New("funding not tradable")
	ErrExceedsHoldings  = errors.New("sell quantity exceeds held shares")
	ErrExceedsSupply    = errors.New("buy quantity exceeds issued share supply")
	ErrBalanceTooLow    = errors.New("point balance below order cost")
	ErrOrderTerminal    = errors.New("order already fully filled or cancelled")
	ErrOrderNotOwned    = errors.New("order does not belong to user")
)

// 结算期失败，整个撮合事务回滚，订单留在队列等待重投
var (
	ErrInsufficientFunds  = errors.New("insufficient point balance at settlement")
	ErrInsufficientShares = errors.New("insufficient share position at settlement")
)

// IsValidationError 是否属于下单校验类错误（返回给调用方 4xx）
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidSide, ErrInvalidPrice, ErrInvalidQuantity,
		ErrMarketClosed, ErrFundingNotFound, ErrFundingNotOpen,
		ErrExceedsHoldings, ErrExceedsSupply, ErrBalanceTooLow,
		ErrOrderTerminal, ErrOrderNotOwned,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
