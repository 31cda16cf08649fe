package dao

import (
	"context"
	"errors"

	"github.com/swapsuite/swap-dealer-server/dal/do"
	"github.com/swapsuite/swap-dealer-server/errcode"

	"gorm.io/gorm"
)

type TradeInfoDAO interface {
	Create(ctx context.Context, tx *gorm.DB, info *do.TradeInfo) (*do.TradeInfo, error)
	UpdateStatusByOrderID(ctx context.Context, tx *gorm.DB, orderID string, status int64) error
	UpdateTxIDByOrderID(ctx context.Context, tx *gorm.DB, orderID string, txid string) error
	UpdateReasonByOrderID(ctx context.Context, tx *gorm.DB, orderID string, reason string) error
}

type TradeInfoDAOImpl struct{}

var tradeInfoDAO TradeInfoDAO = &TradeInfoDAOImpl{}

func GetTradeInfoDAOImpl() TradeInfoDAO {
	return tradeInfoDAO
}

func (o *TradeInfoDAOImpl) Create(ctx context.Context, tx *gorm.DB, info *do.TradeInfo) (*do.TradeInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	if info == nil {
		return nil, errors.New("nil trade info when creating")
	}

	query := tx.Create(info)
	return info, query.Error
}

func (o *TradeInfoDAOImpl) UpdateStatusByOrderID(ctx context.Context, tx *gorm.DB, orderID string, status int64) error {
	if tx == nil {
		return errcode.ErrNilGormDB
	}

	query := tx.Model(&do.TradeInfo{}).Where("order_id = ?", orderID).Update("status", status)
	if query.Error == nil && query.RowsAffected == 0 {
		return errcode.ErrRecordMissing
	}
	return query.Error
}

func (o *TradeInfoDAOImpl) UpdateTxIDByOrderID(ctx context.Context, tx *gorm.DB, orderID string, txid string) error {
	if tx == nil {
		return errcode.ErrNilGormDB
	}

	query := tx.Model(&do.TradeInfo{}).Where("order_id = ?", orderID).Update("tx_id", txid)
	if query.Error == nil && query.RowsAffected == 0 {
		return errcode.ErrRecordMissing
	}
	return query.Error
}

func (o *TradeInfoDAOImpl) UpdateReasonByOrderID(ctx context.Context, tx *gorm.DB, orderID string, reason string) error {
	if tx == nil {
		return errcode.ErrNilGormDB
	}

	query := tx.Model(&do.TradeInfo{}).Where("order_id = ?", orderID).Update("reason", reason)
	if query.Error == nil && query.RowsAffected == 0 {
		return errcode.ErrRecordMissing
	}
	return query.Error
}
